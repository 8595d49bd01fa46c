package reporting

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"callhelm/internal/calls"

	"github.com/xuri/excelize/v2"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Repository abstracts data access for reporting.
//
// IMPORTANT:
// - Methods must enforce org filtering.
// - Reporting reads only; it never mutates call rows.
type Repository interface {
	ListCalls(ctx context.Context, orgID string, from, to time.Time, campaignID string) ([]calls.Call, error)
}

type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

func (s *Service) CallsSummary(ctx context.Context, req CallsSummaryRequest) (CallsSummary, error) {
	if req.OrgID == "" {
		return CallsSummary{}, ErrInvalidRequest
	}
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return CallsSummary{}, ErrInvalidRequest
	}

	rows, err := s.repo.ListCalls(ctx, req.OrgID, req.Range.From, req.Range.To, req.CampaignID)
	if err != nil {
		return CallsSummary{}, err
	}

	out := CallsSummary{OrgID: req.OrgID, CampaignID: req.CampaignID}
	for _, c := range rows {
		out.TotalCalls++
		out.TotalDurationSeconds += c.DurationSeconds
		if c.EndedAt == nil {
			out.ActiveCalls++
			continue
		}
		switch c.Status {
		case calls.CallStatusCompleted:
			out.CompletedCalls++
		case calls.CallStatusFailed:
			out.FailedCalls++
		case calls.CallStatusNoAnswer:
			out.NoAnswerCalls++
		case calls.CallStatusBusy:
			out.BusyCalls++
		case calls.CallStatusAbandoned:
			out.AbandonedCalls++
		}
	}
	if out.TotalCalls > 0 {
		out.AverageDurationSeconds = out.TotalDurationSeconds / out.TotalCalls
	}
	return out, nil
}

// TodayRange returns the current UTC day as a reporting window.
func (s *Service) TodayRange() TimeRange {
	now := s.clock().UTC()
	from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return TimeRange{From: from, To: from.Add(24 * time.Hour)}
}

var exportHeader = []string{
	"Call ID", "Direction", "From", "To", "Status",
	"Started At", "Ended At", "Duration (s)", "Agent ID", "Contact ID", "Campaign ID",
}

// ExportCallsXLSX streams the window's calls as a spreadsheet: a summary block
// followed by one row per call.
func (s *Service) ExportCallsXLSX(ctx context.Context, req CallsSummaryRequest, w io.Writer) error {
	if req.OrgID == "" {
		return ErrInvalidRequest
	}
	rows, err := s.repo.ListCalls(ctx, req.OrgID, req.Range.From, req.Range.To, req.CampaignID)
	if err != nil {
		return err
	}
	summary, err := s.CallsSummary(ctx, req)
	if err != nil {
		return err
	}

	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Calls"
	f.SetSheetName("Sheet1", sheet)

	if err := f.SetSheetRow(sheet, "A1", &[]any{"Report window", req.Range.From.Format(time.RFC3339), req.Range.To.Format(time.RFC3339)}); err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, "A2", &[]any{"Total", summary.TotalCalls, "Completed", summary.CompletedCalls, "Failed", summary.FailedCalls, "Avg duration (s)", summary.AverageDurationSeconds}); err != nil {
		return err
	}

	headerRow := make([]any, len(exportHeader))
	for i, h := range exportHeader {
		headerRow[i] = h
	}
	if err := f.SetSheetRow(sheet, "A4", &headerRow); err != nil {
		return err
	}

	for i, c := range rows {
		endedAt := ""
		if c.EndedAt != nil {
			endedAt = c.EndedAt.UTC().Format(time.RFC3339)
		}
		cell := fmt.Sprintf("A%d", 5+i)
		row := []any{
			c.ID, string(c.Direction), c.FromNumber, c.ToNumber, string(c.Status),
			c.StartedAt.UTC().Format(time.RFC3339), endedAt, c.DurationSeconds,
			c.MemberID, c.ContactID, c.Metadata.CampaignID,
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return err
		}
	}

	return f.Write(w)
}
