package signal

import (
	"errors"
	"reflect"
	"strings"

	"github.com/dkeye/One2Many/internal/domain"
	"github.com/go-playground/validator/v10"
	"github.com/pion/sdp/v3"
)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("sdp", func(fl validator.FieldLevel) bool {
		var sd sdp.SessionDescription
		return sd.Unmarshal([]byte(fl.Field().String())) == nil
	})
	_ = v.RegisterValidation("filename", func(fl validator.FieldLevel) bool {
		return domain.ValidateFileName(fl.Field().String()) == nil
	})
	return v
}

// checkRequest validates req and turns a failure into a client-readable error.
func (ctl *SignalWSController) checkRequest(req any) error {
	err := ctl.validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return errors.New("missing " + fe.Field())
	case "sdp":
		return errors.New("malformed SDP offer")
	case "filename":
		return domain.ValidateFileName(fe.Value().(string))
	default:
		return errors.New("invalid " + fe.Field())
	}
}
