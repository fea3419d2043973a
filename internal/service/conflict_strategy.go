package service

import (
	"context"
	"fmt"

	"github.com/noah-isme/uni-enrollment-api/internal/models"
	appErrors "github.com/noah-isme/uni-enrollment-api/pkg/errors"
)

// ExplanationMissingData is reported when a check lacks a required field.
const ExplanationMissingData = "missing required data"

// Conflict kinds share their codes with the errors the scheduler returns.
const (
	ConflictKindMissingData        = "MISSING_REQUIRED_DATA"
	ConflictKindRoom               = "ROOM_CONFLICT"
	ConflictKindInstructor         = "INSTRUCTOR_CONFLICT"
	ConflictKindInstructorNotFound = "INSTRUCTOR_NOT_FOUND"
)

// ConflictResult is the verdict of one strategy. Explanation is empty when HasConflict is false.
type ConflictResult struct {
	HasConflict bool
	Explanation string
	Kind        string
	Conflicting *models.Section
}

// ConflictStrategy detects whether a proposed slot collides with committed sections.
// Errors are reserved for persistence failures; conflicts are results.
type ConflictStrategy interface {
	Name() string
	CheckConflict(ctx context.Context, input models.ConflictCheckInput) (ConflictResult, error)
}

// Overlaps reports whether [s1,e1) and [s2,e2) intersect. Touching intervals do not overlap.
func Overlaps(s1, e1, s2, e2 models.TimeOfDay) bool {
	return s1 < e2 && s2 < e1
}

func hasTermSlot(input models.ConflictCheckInput) bool {
	return input.DayOfWeek != "" &&
		input.Semester != "" &&
		input.AcademicYear != "" &&
		input.StartTime.Valid() &&
		input.EndTime > input.StartTime
}

func missingData() ConflictResult {
	return ConflictResult{HasConflict: true, Explanation: ExplanationMissingData, Kind: ConflictKindMissingData}
}

func slotOf(input models.ConflictCheckInput) models.SlotQuery {
	return models.SlotQuery{
		Semester:         input.Semester,
		AcademicYear:     input.AcademicYear,
		DayOfWeek:        input.DayOfWeek,
		ExcludeSectionID: input.ExcludeSectionID,
	}
}

func firstOverlap(input models.ConflictCheckInput, sections []models.Section) *models.Section {
	for i := range sections {
		s := &sections[i]
		if input.ExcludeSectionID != "" && s.ID == input.ExcludeSectionID {
			continue
		}
		if Overlaps(input.StartTime, input.EndTime, s.StartTime, s.EndTime) {
			return s
		}
	}
	return nil
}

type roomSlotLister interface {
	ListByRoomSlot(ctx context.Context, room string, slot models.SlotQuery) ([]models.Section, error)
}

// RoomConflictStrategy rejects a slot when another section already occupies the room.
type RoomConflictStrategy struct {
	sections roomSlotLister
}

// NewRoomConflictStrategy constructs the strategy.
func NewRoomConflictStrategy(sections roomSlotLister) *RoomConflictStrategy {
	return &RoomConflictStrategy{sections: sections}
}

// Name implements ConflictStrategy.
func (s *RoomConflictStrategy) Name() string { return "room" }

// CheckConflict implements ConflictStrategy.
func (s *RoomConflictStrategy) CheckConflict(ctx context.Context, input models.ConflictCheckInput) (ConflictResult, error) {
	if input.RoomID == "" || !hasTermSlot(input) {
		return missingData(), nil
	}
	booked, err := s.sections.ListByRoomSlot(ctx, input.RoomID, slotOf(input))
	if err != nil {
		return ConflictResult{}, fmt.Errorf("load room bookings: %w", err)
	}
	clash := firstOverlap(input, booked)
	if clash == nil {
		return ConflictResult{}, nil
	}
	return ConflictResult{
		HasConflict: true,
		Kind:        ConflictKindRoom,
		Conflicting: clash,
		Explanation: fmt.Sprintf("room %s is already booked by section %s on %s %s-%s",
			input.RoomID, clash.SectionNumber, clash.DayOfWeek, clash.StartTime, clash.EndTime),
	}, nil
}

type instructorDirectory interface {
	ExistsWithRole(ctx context.Context, id string, role models.UserRole) (bool, error)
}

type instructorSlotLister interface {
	ListByInstructorSlot(ctx context.Context, instructorID string, slot models.SlotQuery) ([]models.Section, error)
}

// DoctorAvailabilityStrategy rejects unknown instructors and double-booked ones.
type DoctorAvailabilityStrategy struct {
	instructors instructorDirectory
	sections    instructorSlotLister
}

// NewDoctorAvailabilityStrategy constructs the strategy.
func NewDoctorAvailabilityStrategy(instructors instructorDirectory, sections instructorSlotLister) *DoctorAvailabilityStrategy {
	return &DoctorAvailabilityStrategy{instructors: instructors, sections: sections}
}

// Name implements ConflictStrategy.
func (s *DoctorAvailabilityStrategy) Name() string { return "instructor" }

// CheckConflict implements ConflictStrategy.
func (s *DoctorAvailabilityStrategy) CheckConflict(ctx context.Context, input models.ConflictCheckInput) (ConflictResult, error) {
	if input.InstructorID == "" || !hasTermSlot(input) {
		return missingData(), nil
	}
	exists, err := s.instructors.ExistsWithRole(ctx, input.InstructorID, models.RoleDoctor)
	if err != nil {
		return ConflictResult{}, fmt.Errorf("lookup instructor: %w", err)
	}
	if !exists {
		return ConflictResult{
			HasConflict: true,
			Kind:        ConflictKindInstructorNotFound,
			Explanation: fmt.Sprintf("instructor %s not found", input.InstructorID),
		}, nil
	}
	teaching, err := s.sections.ListByInstructorSlot(ctx, input.InstructorID, slotOf(input))
	if err != nil {
		return ConflictResult{}, fmt.Errorf("load instructor sections: %w", err)
	}
	clash := firstOverlap(input, teaching)
	if clash == nil {
		return ConflictResult{}, nil
	}
	return ConflictResult{
		HasConflict: true,
		Kind:        ConflictKindInstructor,
		Conflicting: clash,
		Explanation: fmt.Sprintf("instructor already teaches section %s on %s %s-%s",
			clash.SectionNumber, clash.DayOfWeek, clash.StartTime, clash.EndTime),
	}, nil
}

var conflictErrors = map[string]*appErrors.Error{
	ConflictKindMissingData:        appErrors.ErrMissingRequiredData,
	ConflictKindRoom:               appErrors.ErrRoomConflict,
	ConflictKindInstructor:         appErrors.ErrInstructorConflict,
	ConflictKindInstructorNotFound: appErrors.ErrInstructorNotFound,
}

// conflictError turns a result into the typed error returned to callers, keeping the explanation verbatim.
func conflictError(result ConflictResult) error {
	base, ok := conflictErrors[result.Kind]
	if !ok {
		base = appErrors.ErrConflict
	}
	details := map[string]interface{}{"kind": result.Kind}
	if result.Conflicting != nil {
		details["conflicting_section_id"] = result.Conflicting.ID
	}
	return appErrors.WithDetails(appErrors.Clone(base, result.Explanation), details)
}
