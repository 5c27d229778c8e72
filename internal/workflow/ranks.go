package workflow

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/zulandar/csmportal/internal/gateway"
	"github.com/zulandar/csmportal/internal/session"
	"go.uber.org/zap"
)

func toEdits(rows []gateway.RankRow) []session.RankEdit {
	edits := make([]session.RankEdit, len(rows))
	for i, r := range rows {
		edits[i] = session.RankEdit{InitiativeName: r.InitiativeName, Rank: strconv.Itoa(r.Rank)}
	}
	return edits
}

// ParseRanks converts the working copy into backend rows. Every row must have
// a positive integer rank; any bad row rejects the whole set.
func ParseRanks(edits []session.RankEdit) ([]gateway.RankRow, error) {
	if len(edits) == 0 {
		return nil, invalid("There are no rank rows to submit.")
	}
	rows := make([]gateway.RankRow, 0, len(edits))
	var problems []string
	for i, e := range edits {
		raw := strings.TrimSpace(e.Rank)
		n, err := strconv.Atoi(raw)
		switch {
		case raw == "":
			problems = append(problems, fmt.Sprintf("row %d (%s): rank is missing", i+1, e.InitiativeName))
		case err != nil:
			problems = append(problems, fmt.Sprintf("row %d (%s): rank %q is not an integer", i+1, e.InitiativeName, raw))
		case n < 1:
			problems = append(problems, fmt.Sprintf("row %d (%s): rank must be positive", i+1, e.InitiativeName))
		}
		rows = append(rows, gateway.RankRow{InitiativeName: e.InitiativeName, Rank: n})
	}
	if len(problems) > 0 {
		return nil, &ValidationError{Problems: problems}
	}
	return rows, nil
}

// LoadRanks replaces the session's rank draft with the backend's rows.
func (s *Service) LoadRanks(ctx context.Context, sess *session.Session, account string) error {
	if err := checkAccount(sess, account); err != nil {
		return err
	}
	rows, err := s.backend.RanksTable(ctx, account)
	if err != nil {
		return err
	}
	sess.LoadRanks(account, toEdits(rows))
	return nil
}

// SaveRanks applies the edited ranks to the draft and arms confirmation. It
// never calls the backend. Initiative names are taken from the loaded draft,
// so edits can only change ranks.
func (s *Service) SaveRanks(sess *session.Session, ranks []string) error {
	draft := sess.Ranks()
	if draft.Account == "" {
		return ErrNoRanksLoaded
	}
	if len(ranks) != len(draft.Rows) {
		return invalid(fmt.Sprintf("Expected %d ranks, got %d. Reload the table and try again.", len(draft.Rows), len(ranks)))
	}
	nonEmpty := false
	edited := make([]session.RankEdit, len(draft.Rows))
	for i, row := range draft.Rows {
		edited[i] = session.RankEdit{InitiativeName: row.InitiativeName, Rank: strings.TrimSpace(ranks[i])}
		if edited[i].Rank != "" {
			nonEmpty = true
		}
	}
	if !nonEmpty {
		return invalid("Enter at least one rank before saving.")
	}
	sess.ArmRanks(edited)
	return nil
}

// CancelRanks clears the pending confirmation without contacting the backend.
func (s *Service) CancelRanks(sess *session.Session) {
	sess.DisarmRanks()
	sess.SetNotice(session.Info, "Rank update cancelled.")
}

// ConfirmRanks validates the pending draft and submits it as one batch. The
// draft is reloaded from the backend afterwards since it is authoritative
// again once the write succeeds. A draft that fails validation is disarmed
// with the typed ranks kept, so the operator can correct and save again.
func (s *Service) ConfirmRanks(ctx context.Context, sess *session.Session) (*gateway.RankUpdate, error) {
	draft := sess.Ranks()
	if !draft.Pending {
		return nil, ErrNothingPending
	}
	if err := checkAccount(sess, draft.Account); err != nil {
		return nil, err
	}
	rows, err := ParseRanks(draft.Rows)
	if err != nil {
		sess.DisarmRanks()
		return nil, err
	}

	res, err := s.backend.UpdateRanks(ctx, draft.Account, rows)
	if err != nil {
		return nil, err
	}
	s.reloadRanks(ctx, sess, draft.Account, rows)
	sess.SetNotice(session.Success, fmt.Sprintf("Updated %d ranks for %s (period %s).", res.Updated, draft.Account, res.PeriodID))
	s.log.Info("ranks updated",
		zap.String("account", draft.Account),
		zap.Int("updated", res.Updated),
		zap.String("period_id", string(res.PeriodID)))
	return res, nil
}

// UploadRanksWorkbook is the legacy input path: ranks come from an XLSX with
// initiativename and rank columns and go through the same batch update.
func (s *Service) UploadRanksWorkbook(ctx context.Context, sess *session.Session, account string, gen int, data []byte) (_ *gateway.RankUpdate, err error) {
	if err := claimSubmission(sess, session.Ranks, account, gen); err != nil {
		return nil, err
	}
	defer func() { sess.Settle(session.Ranks, err == nil) }()
	edits, err := ReadRankWorkbook(data)
	if err != nil {
		return nil, err
	}
	rows, err := ParseRanks(edits)
	if err != nil {
		return nil, err
	}

	res, err := s.backend.UpdateRanks(ctx, account, rows)
	if err != nil {
		return nil, err
	}
	s.reloadRanks(ctx, sess, account, rows)
	sess.SetNotice(session.Success, fmt.Sprintf("Updated %d ranks for %s (period %s).", res.Updated, account, res.PeriodID))
	return res, nil
}

// reloadRanks refreshes the draft after a write, falling back to the rows
// just written when the reload fails.
func (s *Service) reloadRanks(ctx context.Context, sess *session.Session, account string, written []gateway.RankRow) {
	fresh, err := s.backend.RanksTable(ctx, account)
	if err != nil {
		s.log.Warn("reload ranks after update", zap.String("account", account), zap.Error(err))
		fresh = written
	}
	sess.LoadRanks(account, toEdits(fresh))
}
