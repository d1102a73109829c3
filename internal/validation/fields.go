// Package validation checks protocol fields against a declarative rule table.
//
// Each rule is a validator tag list ordered presence, length, shape. The
// validator stops at the first failing tag of a field and fields are checked
// in table order, so the first violation wins.
package validation

import (
	"regexp"

	"github.com/go-playground/validator/v10"

	"github.com/roastedbeans/certification-authority/internal/apperr"
	"github.com/roastedbeans/certification-authority/internal/util"
)

// Rule binds a field name to its validator tags and the response code
// reported when the field is rejected.
type Rule struct {
	Field string
	Tag   string
	Code  apperr.Code
}

// Table is an ordered list of rules.
type Table []Rule

var (
	txCharset     = regexp.MustCompile(`^[A-Za-z0-9_.\-]+$`)
	base64RawURL  = regexp.MustCompile(`^[A-Za-z0-9_\-]+$`)
	apiTranIDRule = Rule{"x-api-tran-id", "required,len=25,alphanum", apperr.CodeInvalidAPITranID}
)

var (
	TokenRequestRules = Table{
		{"grant_type", "required,max=20,oneof=client_credentials", apperr.CodeInvalidParameters},
		{"client_id", "required,max=50,txcharset", apperr.CodeInvalidParameters},
		{"client_secret", "required,max=100", apperr.CodeInvalidParameters},
		{"scope", "required,max=10,oneof=manage ca", apperr.CodeInvalidParameters},
	}

	SignRequestRules = Table{
		{"sign_tx_id", "required,max=49,txcharset", apperr.CodeInvalidSignTxID},
		{"user_ci", "required,max=100,base64", apperr.CodeInvalidParameters},
		{"real_name", "required,max=30", apperr.CodeInvalidParameters},
		{"phone_num", "required,max=15,kr_phone", apperr.CodeInvalidParameters},
		{"request_title", "required,max=200", apperr.CodeInvalidParameters},
		{"device_code", "required,max=2,oneof=PC TB MO", apperr.CodeInvalidParameters},
		{"device_browser", "required,max=2,oneof=WB NA HY", apperr.CodeInvalidParameters},
		{"return_app_scheme_url", "omitempty,max=100,url", apperr.CodeInvalidParameters},
		{"consent_cnt", "required,max=4,number", apperr.CodeInvalidParameters},
		{"consent_type", "required,len=1,oneof=0 1", apperr.CodeInvalidParameters},
	}

	ConsentItemRules = Table{
		{"tx_id", "omitempty,len=74,txcharset", apperr.CodeInvalidTxID},
		{"consent_title", "required,max=100", apperr.CodeInvalidParameters},
		{"consent", "required,max=500", apperr.CodeInvalidParameters},
		{"consent_len", "required,max=3,number", apperr.CodeInvalidParameters},
	}

	SignResultRules = Table{
		{"cert_tx_id", "required,len=40,txcharset", apperr.CodeInvalidCertTxID},
		{"sign_tx_id", "required,max=49,txcharset", apperr.CodeInvalidSignTxID},
	}

	VerifyRules = Table{
		{"cert_tx_id", "required,len=40,txcharset", apperr.CodeInvalidCertTxID},
		{"tx_id", "required,len=74,txcharset", apperr.CodeInvalidTxID},
		{"signed_consent", "required,max=10000,b64rawurl", apperr.CodeInvalidParameters},
		{"signed_consent_len", "required,max=5,number", apperr.CodeInvalidParameters},
		{"consent", "required,max=500", apperr.CodeInvalidParameters},
		{"consent_type", "required,len=1,oneof=0 1", apperr.CodeInvalidParameters},
		{"consent_len", "required,max=3,number", apperr.CodeInvalidParameters},
	}

	DataAccessRules = Table{
		{"tx_id", "required,len=74,txcharset", apperr.CodeInvalidTxID},
	}

	OrgSearchRules = Table{
		{"search_timestamp", "omitempty,len=14,number", apperr.CodeInvalidParameters},
	}
)

// MaxConsentItems bounds consent_list.
const MaxConsentItems = 9999

// Validator runs rule tables. It is safe for concurrent use.
type Validator struct {
	v *validator.Validate
}

func New() *Validator {
	v := validator.New()
	_ = v.RegisterValidation("txcharset", func(fl validator.FieldLevel) bool {
		return txCharset.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("b64rawurl", func(fl validator.FieldLevel) bool {
		return base64RawURL.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("kr_phone", func(fl validator.FieldLevel) bool {
		return util.IsValidKoreanPhone(fl.Field().String())
	})
	return &Validator{v: v}
}

// Check validates values against table and returns the first violation.
func (x *Validator) Check(table Table, values map[string]string) error {
	for _, r := range table {
		if err := x.Field(r, values[r.Field]); err != nil {
			return err
		}
	}
	return nil
}

// Field validates a single value against r.
func (x *Validator) Field(r Rule, value string) error {
	err := x.v.Var(value, r.Tag)
	if err == nil {
		return nil
	}
	tag := ""
	if ve, ok := err.(validator.ValidationErrors); ok && len(ve) > 0 {
		tag = ve[0].Tag()
	}
	return apperr.Field(kindForTag(tag), r.Field, r.Code)
}

// APITranID validates the x-api-tran-id header.
func (x *Validator) APITranID(v string) error {
	return x.Field(apiTranIDRule, v)
}

func kindForTag(tag string) apperr.Kind {
	switch tag {
	case "required":
		return apperr.Missing
	case "max", "min", "len":
		return apperr.TooLong
	default:
		return apperr.WrongType
	}
}
