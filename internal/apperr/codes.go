package apperr

// Code is the symbolic response code carried in rsp_msg; RspCode gives its
// five digit wire form.
type Code string

const (
	CodeSuccess            Code = "SUCCESS"
	CodeInvalidParameters  Code = "INVALID_PARAMETERS"
	CodeInvalidAPITranID   Code = "INVALID_API_TRAN_ID"
	CodeInvalidSignTxID    Code = "INVALID_SIGN_TX_ID"
	CodeInvalidCertTxID    Code = "INVALID_CERT_TX_ID"
	CodeInvalidTxID        Code = "INVALID_TX_ID"
	CodeUnauthorized       Code = "UNAUTHORIZED"
	CodeInvalidToken       Code = "INVALID_TOKEN"
	CodeForbidden          Code = "FORBIDDEN"
	CodeNoCertificateFound Code = "NO_CERTIFICATE_FOUND"
	CodeOutOfSequence      Code = "OUT_OF_SEQUENCE"
	CodeTooManyRequests    Code = "TOO_MANY_REQUESTS"
	CodeSystemUnavailable  Code = "SYSTEM_UNAVAILABLE"
)

var rspCodes = map[Code]string{
	CodeSuccess:            "00000",
	CodeInvalidParameters:  "40001",
	CodeInvalidAPITranID:   "40002",
	CodeInvalidSignTxID:    "40003",
	CodeInvalidCertTxID:    "40004",
	CodeInvalidTxID:        "40005",
	CodeUnauthorized:       "40101",
	CodeInvalidToken:       "40102",
	CodeForbidden:          "40301",
	CodeNoCertificateFound: "40401",
	CodeOutOfSequence:      "40901",
	CodeTooManyRequests:    "42901",
	CodeSystemUnavailable:  "50001",
}

// MaxRspMsgLen bounds rsp_msg.
const MaxRspMsgLen = 450

func (c Code) RspCode() string {
	if v, ok := rspCodes[c]; ok {
		return v
	}
	return rspCodes[CodeSystemUnavailable]
}

// RspMsg renders the message for c, truncated to MaxRspMsgLen runes.
func RspMsg(c Code, detail string) string {
	msg := string(c)
	if detail != "" {
		msg += ": " + detail
	}
	r := []rune(msg)
	if len(r) > MaxRspMsgLen {
		r = r[:MaxRspMsgLen]
	}
	return string(r)
}
