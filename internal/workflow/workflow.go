// Package workflow implements the operator actions of the portal. Every
// operation receives the session explicitly, validates locally, makes its
// backend calls and only then mutates the session.
package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/zulandar/csmportal/internal/gateway"
	"github.com/zulandar/csmportal/internal/jobmon"
	"github.com/zulandar/csmportal/internal/session"
	"go.uber.org/zap"
)

// SetupOperation is sent with every setup call; the portal never asks the
// operator for one.
const SetupOperation = "Nothing"

// XLSXContentType is the media type of every downloaded workbook.
const XLSXContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Backend is the subset of the gateway the workflows use.
type Backend interface {
	ValidatePath(ctx context.Context, customerID string) (*gateway.PathInfo, error)
	AccountNames(ctx context.Context, customerID string) ([]string, error)
	Setup(ctx context.Context, s gateway.SetupRequest) error
	UploadContacts(ctx context.Context, account, filename string, data []byte) (map[string]any, error)
	DownloadProductsExcel(ctx context.Context, customerID string) ([]byte, error)
	DownloadUsageTracking(ctx context.Context, customerID string) ([]byte, error)
	RanksTable(ctx context.Context, account string) ([]gateway.RankRow, error)
	UpdateRanks(ctx context.Context, account string, rows []gateway.RankRow) (*gateway.RankUpdate, error)
	DownloadRecommendationsTemplate(ctx context.Context, account string) ([]byte, error)
	UpdateRecommendations(ctx context.Context, account string, rows []map[string]any) (*gateway.RecommendationUpdate, error)
}

// Starter starts config refresh jobs. *jobmon.Monitor satisfies it.
type Starter interface {
	Start(ctx context.Context, customerID, customerName string) (*jobmon.Job, error)
}

// Opts holds parameters for creating a Service.
type Opts struct {
	Backend         Backend
	Jobs            Starter
	RequiredColumns []string
	Logger          *zap.Logger
}

// Service runs workflows against the backend.
type Service struct {
	backend  Backend
	jobs     Starter
	required []string
	log      *zap.Logger
}

// New creates a Service.
func New(opts Opts) (*Service, error) {
	if opts.Backend == nil {
		return nil, fmt.Errorf("workflow: backend is required")
	}
	if opts.Jobs == nil {
		return nil, fmt.Errorf("workflow: job starter is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Service{
		backend:  opts.Backend,
		jobs:     opts.Jobs,
		required: opts.RequiredColumns,
		log:      opts.Logger,
	}, nil
}

// Download is a workbook ready to hand to the browser.
type Download struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Connect binds the session to a customer: validate_path, then accountnames,
// then setup on the first account. The session is only changed once all three
// calls succeed.
func (s *Service) Connect(ctx context.Context, sess *session.Session, customerID string) error {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return invalid("Please enter a Customer ID.")
	}

	info, err := s.backend.ValidatePath(ctx, customerID)
	if err != nil {
		return err
	}
	accounts, err := s.backend.AccountNames(ctx, customerID)
	if err != nil {
		return err
	}
	if len(accounts) == 0 {
		s.log.Warn("no accounts found", zap.String("customer_id", customerID))
		return ErrNoAccounts
	}
	err = s.backend.Setup(ctx, gateway.SetupRequest{
		DSPath:    info.DSRoot,
		Operation: SetupOperation,
		Account:   accounts[0],
	})
	if err != nil {
		return err
	}

	sess.Bind(session.Customer{
		ID:       customerID,
		Name:     info.CustomerName,
		DSRoot:   info.DSRoot,
		Accounts: accounts,
	})
	sess.SetNotice(session.Success, "Connected successfully.")
	s.log.Info("customer connected",
		zap.String("customer_id", customerID),
		zap.Int("accounts", len(accounts)))
	return nil
}

// checkAccount enforces setup and account membership.
func checkAccount(sess *session.Session, account string) error {
	if !sess.SetupComplete() {
		return ErrSetupRequired
	}
	if !sess.HasAccount(account) {
		return ErrUnknownAccount
	}
	return nil
}

// claimSubmission enforces setup and account membership, then claims the
// upload generation. On success the caller must Settle the surface.
func claimSubmission(sess *session.Session, surface session.Surface, account string, gen int) error {
	if err := checkAccount(sess, account); err != nil {
		return err
	}
	if !sess.Claim(surface, gen) {
		return ErrStaleSubmission
	}
	return nil
}

// UploadContacts checks the CSV header and sends it as {account}.csv. On
// success the contacts upload control moves to a new generation.
func (s *Service) UploadContacts(ctx context.Context, sess *session.Session, account string, gen int, data []byte) (err error) {
	if err := claimSubmission(sess, session.Contacts, account, gen); err != nil {
		return err
	}
	defer func() { sess.Settle(session.Contacts, err == nil) }()
	if err := CheckCSVColumns(data, s.required); err != nil {
		return err
	}

	if _, err := s.backend.UploadContacts(ctx, account, account+".csv", data); err != nil {
		return err
	}
	sess.SetNotice(session.Success, "Contacts uploaded successfully.")
	s.log.Info("contacts uploaded", zap.String("account", account), zap.Int("bytes", len(data)))
	return nil
}

func customerFilePrefix(c session.Customer) string {
	if c.Name == "" {
		return "customer"
	}
	return c.Name
}

// DownloadProducts fetches the product offerings workbook.
func (s *Service) DownloadProducts(ctx context.Context, sess *session.Session) (*Download, error) {
	if !sess.SetupComplete() {
		return nil, ErrSetupRequired
	}
	c := sess.Customer()
	data, err := s.backend.DownloadProductsExcel(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	s.log.Info("product offerings downloaded", zap.String("customer", c.Name))
	return &Download{Filename: customerFilePrefix(c) + "_product_offerings.xlsx", ContentType: XLSXContentType, Data: data}, nil
}

// DownloadUsage fetches the usage tracking workbook.
func (s *Service) DownloadUsage(ctx context.Context, sess *session.Session) (*Download, error) {
	if !sess.SetupComplete() {
		return nil, ErrSetupRequired
	}
	c := sess.Customer()
	data, err := s.backend.DownloadUsageTracking(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	s.log.Info("usage tracking downloaded", zap.String("customer", c.Name))
	return &Download{Filename: customerFilePrefix(c) + "_usage_tracking.xlsx", ContentType: XLSXContentType, Data: data}, nil
}

// DownloadRecommendationsTemplate fetches the recommendations workbook for an account.
func (s *Service) DownloadRecommendationsTemplate(ctx context.Context, sess *session.Session, account string) (*Download, error) {
	if err := checkAccount(sess, account); err != nil {
		return nil, err
	}
	data, err := s.backend.DownloadRecommendationsTemplate(ctx, account)
	if err != nil {
		return nil, err
	}
	return &Download{Filename: account + "_recommendations.xlsx", ContentType: XLSXContentType, Data: data}, nil
}

// StartRefresh triggers a config refresh for the bound customer. Only one job
// per session is monitored at a time.
func (s *Service) StartRefresh(ctx context.Context, sess *session.Session) (*jobmon.Job, error) {
	if !sess.SetupComplete() {
		return nil, ErrSetupRequired
	}
	if !sess.BeginRefresh() {
		return nil, jobmon.ErrJobRunning
	}
	c := sess.Customer()
	j, err := s.jobs.Start(ctx, c.ID, c.Name)
	sess.EndRefresh(j)
	if err != nil {
		return nil, err
	}
	return j, nil
}

// UploadRecommendations reads the first sheet of an XLSX workbook and sends
// every non-empty row as one batch.
func (s *Service) UploadRecommendations(ctx context.Context, sess *session.Session, account string, gen int, data []byte) (_ *gateway.RecommendationUpdate, err error) {
	if err := claimSubmission(sess, session.Recommendations, account, gen); err != nil {
		return nil, err
	}
	defer func() { sess.Settle(session.Recommendations, err == nil) }()
	rows, err := ReadRecommendationRows(data)
	if err != nil {
		return nil, err
	}

	res, err := s.backend.UpdateRecommendations(ctx, account, rows)
	if err != nil {
		return nil, err
	}
	sess.SetNotice(session.Success, fmt.Sprintf("Recommendations updated: %d rows (period %s).", res.UpdatedRows, res.PeriodID))
	s.log.Info("recommendations updated",
		zap.String("account", account),
		zap.Int("rows", res.UpdatedRows),
		zap.String("period_id", string(res.PeriodID)))
	return res, nil
}
