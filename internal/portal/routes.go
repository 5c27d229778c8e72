package portal

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/csmportal/internal/access"
	"github.com/zulandar/csmportal/internal/jobmon"
	"github.com/zulandar/csmportal/internal/session"
	"github.com/zulandar/csmportal/internal/workflow"
	"go.uber.org/zap"
)

// Tab identifiers used in ?tab= and the layout.
const (
	tabSetup           = "setup"
	tabContacts        = "contacts"
	tabProducts        = "products"
	tabUsage           = "usage"
	tabRefresh         = "refresh"
	tabRanks           = "ranks"
	tabRecommendations = "recommendations"
)

type tab struct{ ID, Title string }

var tabs = []tab{
	{tabSetup, "Initial Setup"},
	{tabContacts, "Manage Contacts"},
	{tabProducts, "Product Offerings"},
	{tabUsage, "Usage Tracking"},
	{tabRefresh, "Config Refresh"},
	{tabRanks, "Ranks"},
	{tabRecommendations, "Recommendations"},
}

type handlers struct {
	gate   *access.Gate
	store  *session.Store
	svc    *workflow.Service
	log    *zap.Logger
	secure bool
}

// registerRoutes sets up all portal routes on the Gin router.
func registerRoutes(router *gin.Engine, h *handlers) {
	staticFS, _ := fs.Sub(assetsFS, "assets")
	router.StaticFS("/static", http.FS(staticFS))
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	web := router.Group("/", h.withSession())
	web.GET("/login", h.loginPage)
	web.POST("/login", h.login)

	app := web.Group("/", h.requireAuth())
	app.POST("/logout", h.logout)
	app.GET("/", h.index)
	app.POST("/connect", h.connect)
	upload := limitBody(maxUploadRequest)
	app.POST("/contacts", upload, h.uploadContacts)
	app.GET("/downloads/products", h.downloadProducts)
	app.GET("/downloads/usage", h.downloadUsage)

	app.POST("/refresh", h.startRefresh)
	app.GET("/refresh/events", h.refreshEvents)
	app.GET("/refresh/status", h.refreshStatus)
	app.POST("/refresh/cancel", h.cancelRefresh)

	app.GET("/ranks", h.loadRanks)
	app.POST("/ranks/save", h.saveRanks)
	app.POST("/ranks/confirm", h.confirmRanks)
	app.POST("/ranks/cancel", h.cancelRanks)
	app.POST("/ranks/upload", upload, h.uploadRanks)

	app.GET("/recommendations/template", h.downloadRecommendations)
	app.POST("/recommendations/upload", upload, h.uploadRecommendations)
}

// generations are the current upload control versions, echoed back by the
// forms.
type generations struct {
	Contacts        int
	Ranks           int
	Recommendations int
}

// pageView is the data rendered by layout.html.
type pageView struct {
	Tabs          []tab
	Tab           string
	Notice        *session.Notice
	Customer      session.Customer
	SetupComplete bool
	SetupMessage  string
	Generations   generations
	Ranks         session.RankDraft
	Job           *jobmon.Update
	JobRunning    bool
}

func (h *handlers) index(c *gin.Context) {
	sess := currentSession(c)
	tab := c.Query("tab")
	if tab == "" {
		tab = tabSetup
	}
	v := pageView{
		Tabs:          tabs,
		Tab:           tab,
		Notice:        sess.TakeNotice(),
		Customer:      sess.Customer(),
		SetupComplete: sess.SetupComplete(),
		SetupMessage:  workflow.Message(workflow.ErrSetupRequired),
		Generations: generations{
			Contacts:        sess.Generation(session.Contacts),
			Ranks:           sess.Generation(session.Ranks),
			Recommendations: sess.Generation(session.Recommendations),
		},
		Ranks: sess.Ranks(),
	}
	if j := sess.Job(); j != nil {
		last := j.Last()
		v.Job = &last
		v.JobRunning = j.Running()
	}
	c.HTML(http.StatusOK, "layout.html", v)
}

func (h *handlers) loginPage(c *gin.Context) {
	sess := currentSession(c)
	decision, wait := h.gate.Check(sess.Authenticated())
	if decision == access.Allow {
		c.Redirect(http.StatusSeeOther, "/")
		return
	}
	data := gin.H{"notice": sess.TakeNotice()}
	switch {
	case decision == access.Locked:
		data["locked"] = lockedMessage(wait.Seconds())
	case h.gate.Disabled():
		data["locked"] = authMessage(&access.AuthError{Disabled: true})
	}
	c.HTML(http.StatusOK, "login.html", data)
}

func (h *handlers) login(c *gin.Context) {
	sess := currentSession(c)
	if err := h.gate.Attempt(c.PostForm("pin")); err != nil {
		h.log.Warn("login rejected", zap.String("session", sess.ID), zap.Error(err))
		sess.SetNotice(session.Error, authMessage(err))
		c.Redirect(http.StatusSeeOther, "/login")
		return
	}
	sess.SetAuthenticated(true)
	h.log.Info("login accepted", zap.String("session", sess.ID))
	c.Redirect(http.StatusSeeOther, "/")
}

func (h *handlers) logout(c *gin.Context) {
	sess := currentSession(c)
	sess.SetAuthenticated(false)
	if j := sess.Job(); j != nil {
		j.Cancel()
	}
	c.Redirect(http.StatusSeeOther, "/login")
}

// back redirects to a tab, turning err into an error notice first.
func (h *handlers) back(c *gin.Context, tab string, err error) {
	if err != nil {
		currentSession(c).SetNotice(session.Error, workflow.Message(err))
	}
	c.Redirect(http.StatusSeeOther, "/?tab="+url.QueryEscape(tab))
}

func (h *handlers) connect(c *gin.Context) {
	err := h.svc.Connect(c.Request.Context(), currentSession(c), c.PostForm("customer_id"))
	h.back(c, tabSetup, err)
}

// errTooLarge is returned for files over maxUpload. Nothing is forwarded.
var errTooLarge = &workflow.ValidationError{
	Problems: []string{fmt.Sprintf("The file exceeds the %d MB upload limit.", maxUpload>>20)},
}

// submission reads the fields shared by every upload form. The file is read
// whole; anything over maxUpload is rejected rather than cut short.
func submission(c *gin.Context) (account string, gen int, data []byte, err error) {
	if err := c.Request.ParseMultipartForm(maxUpload); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return "", 0, nil, errTooLarge
		}
	}
	account = c.PostForm("account")
	gen, err = strconv.Atoi(c.PostForm("generation"))
	if err != nil {
		return "", 0, nil, workflow.ErrStaleSubmission
	}
	fh, ferr := c.FormFile("file")
	if ferr != nil {
		// No file: the workflow reports the empty upload.
		return account, gen, nil, nil
	}
	f, err := fh.Open()
	if err != nil {
		return "", 0, nil, fmt.Errorf("portal: open upload: %w", err)
	}
	defer f.Close()
	data, err = io.ReadAll(io.LimitReader(f, maxUpload+1))
	if err != nil {
		return "", 0, nil, fmt.Errorf("portal: read upload: %w", err)
	}
	if len(data) > maxUpload {
		return "", 0, nil, errTooLarge
	}
	return account, gen, data, nil
}

func (h *handlers) uploadContacts(c *gin.Context) {
	account, gen, data, err := submission(c)
	if err == nil {
		err = h.svc.UploadContacts(c.Request.Context(), currentSession(c), account, gen, data)
	}
	h.back(c, tabContacts, err)
}

func (h *handlers) sendDownload(c *gin.Context, tab string, d *workflow.Download, err error) {
	if err != nil {
		h.back(c, tab, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", d.Filename))
	c.Data(http.StatusOK, d.ContentType, d.Data)
}

func (h *handlers) downloadProducts(c *gin.Context) {
	d, err := h.svc.DownloadProducts(c.Request.Context(), currentSession(c))
	h.sendDownload(c, tabProducts, d, err)
}

func (h *handlers) downloadUsage(c *gin.Context) {
	d, err := h.svc.DownloadUsage(c.Request.Context(), currentSession(c))
	h.sendDownload(c, tabUsage, d, err)
}

func (h *handlers) downloadRecommendations(c *gin.Context) {
	d, err := h.svc.DownloadRecommendationsTemplate(c.Request.Context(), currentSession(c), c.Query("account"))
	h.sendDownload(c, tabRecommendations, d, err)
}

func (h *handlers) startRefresh(c *gin.Context) {
	sess := currentSession(c)
	_, err := h.svc.StartRefresh(c.Request.Context(), sess)
	if err == nil {
		sess.SetNotice(session.Info, "Config refresh started.")
	}
	h.back(c, tabRefresh, err)
}

func (h *handlers) refreshStatus(c *gin.Context) {
	j := currentSession(c).Job()
	if j == nil {
		c.JSON(http.StatusOK, gin.H{"running": false, "update": jobmon.Update{State: jobmon.NotStarted}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"running": j.Running(), "update": j.Last()})
}

func (h *handlers) cancelRefresh(c *gin.Context) {
	sess := currentSession(c)
	if j := sess.Job(); j != nil && j.Running() {
		j.Cancel()
		sess.SetNotice(session.Info, "Stopped monitoring. The refresh may still be running on the server.")
	} else {
		sess.SetNotice(session.Info, "No config refresh is being monitored.")
	}
	h.back(c, tabRefresh, nil)
}

func (h *handlers) loadRanks(c *gin.Context) {
	err := h.svc.LoadRanks(c.Request.Context(), currentSession(c), c.Query("account"))
	h.back(c, tabRanks, err)
}

func (h *handlers) saveRanks(c *gin.Context) {
	err := h.svc.SaveRanks(currentSession(c), c.PostFormArray("rank"))
	h.back(c, tabRanks, err)
}

func (h *handlers) confirmRanks(c *gin.Context) {
	_, err := h.svc.ConfirmRanks(c.Request.Context(), currentSession(c))
	h.back(c, tabRanks, err)
}

func (h *handlers) cancelRanks(c *gin.Context) {
	h.svc.CancelRanks(currentSession(c))
	h.back(c, tabRanks, nil)
}

func (h *handlers) uploadRanks(c *gin.Context) {
	account, gen, data, err := submission(c)
	if err == nil {
		_, err = h.svc.UploadRanksWorkbook(c.Request.Context(), currentSession(c), account, gen, data)
	}
	h.back(c, tabRanks, err)
}

func (h *handlers) uploadRecommendations(c *gin.Context) {
	account, gen, data, err := submission(c)
	if err == nil {
		_, err = h.svc.UploadRecommendations(c.Request.Context(), currentSession(c), account, gen, data)
	}
	h.back(c, tabRecommendations, err)
}
