package validation

import (
	"github.com/roastedbeans/certification-authority/internal/apperr"
	"github.com/roastedbeans/certification-authority/internal/models"
)

func (x *Validator) TokenRequest(r *models.TokenRequest) error {
	return x.Check(TokenRequestRules, r.FieldValues())
}

// SignRequest validates the IA102 body: scalar fields, then the consent_cnt
// against the list length, then every consent item.
func (x *Validator) SignRequest(r *models.SignRequest) error {
	if err := x.Check(SignRequestRules, r.FieldValues()); err != nil {
		return err
	}
	cnt, err := r.ConsentCnt.Int()
	if err != nil || cnt < 1 || cnt > MaxConsentItems {
		return apperr.Field(apperr.WrongType, "consent_cnt", apperr.CodeInvalidParameters)
	}
	if cnt != len(r.ConsentList) {
		return apperr.Field(apperr.CountMismatch, "consent_list", apperr.CodeInvalidParameters)
	}
	seen := make(map[string]struct{}, len(r.ConsentList))
	for i := range r.ConsentList {
		item := &r.ConsentList[i]
		if err := x.Check(ConsentItemRules, item.FieldValues()); err != nil {
			return err
		}
		if item.TxID != "" {
			if _, dup := seen[item.TxID]; dup {
				return apperr.Field(apperr.WrongType, "tx_id", apperr.CodeInvalidTxID)
			}
			seen[item.TxID] = struct{}{}
		}
	}
	return nil
}

func (x *Validator) SignResultRequest(r *models.SignResultRequest) error {
	return x.Check(SignResultRules, r.FieldValues())
}

func (x *Validator) VerifyRequest(r *models.VerifyRequest) error {
	return x.Check(VerifyRules, r.FieldValues())
}

func (x *Validator) DataAccessRequest(r *models.DataAccessRequest) error {
	return x.Check(DataAccessRules, r.FieldValues())
}

func (x *Validator) OrgSearch(searchTimestamp string) error {
	return x.Check(OrgSearchRules, map[string]string{"search_timestamp": searchTimestamp})
}
