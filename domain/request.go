package domain

import (
	"fmt"
	"regexp"
	"strings"

	"polyglot-chat/errors"

	"github.com/go-playground/validator/v10"
	"golang.org/x/text/unicode/norm"
)

const MaxContentLength = 1000

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("language", func(fl validator.FieldLevel) bool {
		_, err := ParseLanguage(fl.Field().String())
		return err == nil
	})
	// Length limits are counted in characters on the text as typed, before any escaping.
	v.RegisterAlias("displayname", fmt.Sprintf("required,max=%d", MaxDisplayNameLength))
	v.RegisterAlias("roomname", fmt.Sprintf("required,max=%d", MaxRoomNameLength))
	v.RegisterAlias("content", fmt.Sprintf("required,max=%d", MaxContentLength))
	return v
}

// scriptTag matches opening and closing script markers, attributes included.
var scriptTag = regexp.MustCompile(`(?i)<\s*/?\s*script\b[^>]*>`)

type JoinRequest struct {
	DisplayName string `json:"displayName" validate:"displayname"`
	Language    string `json:"language" validate:"required,language"`
	Room        string `json:"room" validate:"roomname"`
}

// Validate returns the normalized request, or a validation error naming the first bad field.
func (r JoinRequest) Validate() (JoinRequest, error) {
	r.DisplayName = norm.NFC.String(strings.TrimSpace(r.DisplayName))
	r.Language = strings.TrimSpace(r.Language)
	r.Room = norm.NFC.String(strings.TrimSpace(r.Room))
	if r.Room == "" {
		r.Room = DefaultRoom
	}
	if err := validate.Struct(r); err != nil {
		return JoinRequest{}, toValidationError(err)
	}
	return r, nil
}

type SendRequest struct {
	Content string `json:"content" validate:"content"`
}

// Validate strips script markers before anything else looks at the content,
// then trims and checks the length in characters.
func (r SendRequest) Validate() (SendRequest, error) {
	r.Content = scriptTag.ReplaceAllString(r.Content, "")
	r.Content = norm.NFC.String(strings.TrimSpace(r.Content))
	if err := validate.Struct(r); err != nil {
		return SendRequest{}, toValidationError(err)
	}
	return r, nil
}

type ChangeLanguageRequest struct {
	Language string `json:"language" validate:"required,language"`
}

func (r ChangeLanguageRequest) Validate() (Language, error) {
	if err := validate.Struct(r); err != nil {
		return "", toValidationError(err)
	}
	return ParseLanguage(r.Language)
}

type HistoryRequest struct {
	Cursor *string `json:"cursor,omitempty" validate:"omitempty,numeric"`
}

func (r HistoryRequest) Validate() (HistoryRequest, error) {
	if err := validate.Struct(r); err != nil {
		return HistoryRequest{}, toValidationError(err)
	}
	return r, nil
}

func toValidationError(err error) error {
	fieldErrors, ok := err.(validator.ValidationErrors)
	if !ok || len(fieldErrors) == 0 {
		return fmt.Errorf("%w: %v", errors.ErrValidation, err)
	}
	switch fieldErrors[0].StructField() {
	case "DisplayName":
		return errors.ErrInvalidUsername
	case "Language":
		return errors.ErrInvalidLanguage
	case "Room":
		return errors.ErrInvalidRoom
	case "Content":
		return errors.ErrInvalidContent
	case "Cursor":
		return errors.ErrInvalidCursor
	default:
		return fmt.Errorf("%w: %s", errors.ErrValidation, fieldErrors[0].Field())
	}
}
