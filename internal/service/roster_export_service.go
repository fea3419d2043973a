package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/uni-enrollment-api/internal/models"
	appErrors "github.com/noah-isme/uni-enrollment-api/pkg/errors"
	"github.com/noah-isme/uni-enrollment-api/pkg/export"
)

type sectionDetailReader interface {
	FindDetailByID(ctx context.Context, id string) (*models.SectionDetail, error)
}

type rosterReader interface {
	ListRoster(ctx context.Context, sectionID string) ([]models.RosterEntry, error)
}

// Roster is a section with its enrolled students.
type Roster struct {
	Section  models.SectionDetail `json:"section"`
	Students []models.RosterEntry `json:"students"`
}

// RosterFile is a rendered roster ready for download.
type RosterFile struct {
	Filename    string
	ContentType string
	Body        []byte
}

// RosterExportService renders section rosters for instructors and officers.
type RosterExportService struct {
	sections  sectionDetailReader
	roster    rosterReader
	renderers map[export.Format]export.Renderer
	logger    *zap.Logger
	now       func() time.Time
}

// NewRosterExportService constructs the service with CSV and PDF renderers.
func NewRosterExportService(sections sectionDetailReader, roster rosterReader, logger *zap.Logger) *RosterExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RosterExportService{
		sections: sections,
		roster:   roster,
		renderers: map[export.Format]export.Renderer{
			export.FormatCSV: export.NewCSVExporter(),
			export.FormatPDF: export.NewPDFExporter(),
		},
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Roster loads the section and its students. Doctors may only read sections they teach.
func (s *RosterExportService) Roster(ctx context.Context, sectionID, actorID string, role models.UserRole) (*Roster, error) {
	section, err := s.sections.FindDetailByID(ctx, sectionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.WithDetails(appErrors.ErrSectionNotFound, map[string]interface{}{"section_id": sectionID})
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load section")
	}
	if role == models.RoleDoctor && section.InstructorID != actorID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "instructors may only view their own rosters")
	}

	students, err := s.roster.ListRoster(ctx, sectionID)
	if err != nil {
		s.logger.Error("load roster failed", zap.String("section_id", sectionID), zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load roster")
	}
	if students == nil {
		students = []models.RosterEntry{}
	}
	return &Roster{Section: *section, Students: students}, nil
}

// Export renders the roster in format (csv or pdf).
func (s *RosterExportService) Export(ctx context.Context, sectionID, actorID string, role models.UserRole, format string) (*RosterFile, error) {
	f, err := export.ParseFormat(strings.ToLower(format))
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	roster, err := s.Roster(ctx, sectionID, actorID, role)
	if err != nil {
		return nil, err
	}

	body, err := s.renderers[f].Render(rosterTable(roster, s.now()))
	if err != nil {
		s.logger.Error("render roster failed", zap.String("section_id", sectionID), zap.String("format", string(f)), zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render roster")
	}

	name := fmt.Sprintf("roster_%s_%s_%s_%s.%s",
		roster.Section.CourseCode, roster.Section.SectionNumber, roster.Section.Semester, roster.Section.AcademicYear, f)
	return &RosterFile{Filename: sanitizeFilename(name), ContentType: f.ContentType(), Body: body}, nil
}

func rosterTable(roster *Roster, generatedAt time.Time) export.Table {
	sec := roster.Section
	table := export.Table{
		Title: fmt.Sprintf("%s %s - Section %s", sec.CourseCode, sec.CourseTitle, sec.SectionNumber),
		Subtitle: fmt.Sprintf("%s %s | %s %s-%s | Room %s | Instructor %s | %d/%d enrolled",
			sec.Semester, sec.AcademicYear, sec.DayOfWeek, sec.StartTime, sec.EndTime,
			roomLabel(sec.Section), sec.InstructorName, sec.CurrentEnrollment, sec.Capacity),
		Columns:     []string{"#", "Student ID", "Name", "Email", "Status", "Enrolled At"},
		GeneratedAt: generatedAt,
	}
	for i, st := range roster.Students {
		table.Rows = append(table.Rows, []string{
			fmt.Sprintf("%d", i+1),
			st.StudentID,
			st.StudentName,
			st.StudentEmail,
			string(st.Status),
			st.EnrolledAt.UTC().Format("2006-01-02"),
		})
	}
	return table
}

func roomLabel(section models.Section) string {
	if room := section.RoomName(); room != "" {
		return room
	}
	return "TBA"
}

func sanitizeFilename(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, name)
}
