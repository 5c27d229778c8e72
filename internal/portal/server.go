// Package portal serves the operator web UI: PIN gate, tabs, uploads,
// downloads and the config refresh event stream.
package portal

import (
	"context"
	"embed"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/csmportal/internal/access"
	"github.com/zulandar/csmportal/internal/logging"
	"github.com/zulandar/csmportal/internal/session"
	"github.com/zulandar/csmportal/internal/workflow"
	"go.uber.org/zap"
)

//go:embed templates/*.html
var templatesFS embed.FS

//go:embed assets
var assetsFS embed.FS

// DefaultPort is the port the portal listens on when none is configured.
const DefaultPort = 8501

// maxUpload is the largest file an upload form accepts. Files are held in
// memory whole before they are forwarded.
const maxUpload = 32 << 20

// maxUploadRequest caps a whole upload request, form fields included.
const maxUploadRequest = maxUpload + 1<<20

// StartOpts holds configuration for the portal server.
type StartOpts struct {
	Gate     *access.Gate
	Sessions *session.Store
	Service  *workflow.Service
	Port     int
	Logger   *zap.Logger
	Out      io.Writer
	// SecureCookie marks the session cookie Secure, for TLS-terminated deployments.
	SecureCookie bool
}

func (o *StartOpts) check() error {
	if o.Gate == nil {
		return fmt.Errorf("portal: gate is required")
	}
	if o.Sessions == nil {
		return fmt.Errorf("portal: session store is required")
	}
	if o.Service == nil {
		return fmt.Errorf("portal: workflow service is required")
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return nil
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(opts StartOpts) (*gin.Engine, error) {
	if err := opts.check(); err != nil {
		return nil, err
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), logging.GinMiddleware(opts.Logger))
	router.MaxMultipartMemory = maxUpload

	tmpl, err := parseTemplates()
	if err != nil {
		return nil, fmt.Errorf("portal: %w", err)
	}
	router.SetHTMLTemplate(tmpl)

	registerRoutes(router, &handlers{
		gate:   opts.Gate,
		store:  opts.Sessions,
		svc:    opts.Service,
		log:    opts.Logger,
		secure: opts.SecureCookie,
	})
	return router, nil
}

// Start launches the portal HTTP server. It blocks until ctx is cancelled,
// then shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	router, err := NewRouter(opts)
	if err != nil {
		return err
	}
	if opts.Port <= 0 {
		opts.Port = DefaultPort
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "Portal running at http://localhost:%d\n", opts.Port)
	}
	opts.Logger.Info("portal listening", zap.Int("port", opts.Port))

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("portal: %w", err)
	}
	return nil
}

var templateFuncs = template.FuncMap{
	"percent": func(p float64) int { return int(p*100 + 0.5) },
	"dict":    dict,
}

// dict builds a map from alternating keys and values for passing several
// arguments to a nested template.
func dict(kv ...any) (map[string]any, error) {
	if len(kv)%2 != 0 {
		return nil, fmt.Errorf("dict: odd number of arguments")
	}
	m := make(map[string]any, len(kv)/2)
	for i := 0; i < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			return nil, fmt.Errorf("dict: key %v is not a string", kv[i])
		}
		m[k] = kv[i+1]
	}
	return m, nil
}

// parseTemplates loads the embedded HTML templates.
func parseTemplates() (*template.Template, error) {
	tmpl, err := template.New("").Funcs(templateFuncs).ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	return tmpl, nil
}
