package travel

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/warp/travel-engine/generic"
)

// =============================================================================
// INPUTS
// =============================================================================

// SubmitInput is what an employee fills in for a new trip.
type SubmitInput struct {
	FromLocation    string `json:"fromLocation" validate:"required,max=200"`
	Destination     string `json:"destination" validate:"required,max=200"`
	FromDate        string `json:"fromDate" validate:"required,datetime=2006-01-02"`
	ToDate          string `json:"toDate" validate:"required,datetime=2006-01-02"`
	PurposeOfTravel string `json:"purposeOfTravel" validate:"required,max=2000"`
	ModeOfTransport string `json:"modeOfTransport" validate:"required,oneof=FLIGHT TRAIN BUS CAR OTHER"`
}

func (in *SubmitInput) normalize() {
	in.FromLocation = strings.TrimSpace(in.FromLocation)
	in.Destination = strings.TrimSpace(in.Destination)
	in.FromDate = strings.TrimSpace(in.FromDate)
	in.ToDate = strings.TrimSpace(in.ToDate)
	in.PurposeOfTravel = strings.TrimSpace(in.PurposeOfTravel)
	in.ModeOfTransport = strings.ToUpper(strings.TrimSpace(in.ModeOfTransport))
}

// SignupInput creates an account.
type SignupInput struct {
	FirstName  string `json:"firstName" validate:"required,min=2,max=50"`
	LastName   string `json:"lastName" validate:"required,min=2,max=50"`
	Email      string `json:"email" validate:"required,email,gmail"`
	Password   string `json:"password" validate:"required,min=6,max=100"`
	Role       string `json:"role" validate:"required,oneof=EMPLOYEE MANAGER"`
	LeavesLeft *int   `json:"leavesLeft" validate:"omitempty,gte=0,lte=366"`
	ManagerID  string `json:"managerId" validate:"omitempty,max=64"`
}

func (in *SignupInput) normalize() {
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	in.Email = normalizeEmail(in.Email)
	in.Role = strings.ToUpper(strings.TrimSpace(in.Role))
	in.ManagerID = strings.TrimSpace(in.ManagerID)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// =============================================================================
// VALIDATOR
// =============================================================================

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	if err := v.RegisterValidation("gmail", validateGmail); err != nil {
		panic(err)
	}
	return v
}

// Only Gmail addresses may register.
func validateGmail(fl validator.FieldLevel) bool {
	return strings.HasSuffix(strings.ToLower(fl.Field().String()), "@gmail.com")
}

// validateStruct converts validator failures into a *generic.ValidationError.
func validateStruct(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	out := &generic.ValidationError{}
	for _, fe := range verrs {
		out.Fields = append(out.Fields, generic.FieldError{
			Field:   fe.Field(),
			Tag:     fe.Tag(),
			Message: fieldMessage(fe),
		})
	}
	return out
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	case "email":
		return "email should be valid"
	case "gmail":
		return "only Gmail addresses are allowed"
	case "datetime":
		return fmt.Sprintf("%s must be a date in YYYY-MM-DD format", fe.Field())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", fe.Field(), fe.Param())
	case "gte", "lte":
		return fmt.Sprintf("%s is out of range", fe.Field())
	default:
		return fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag())
	}
}
