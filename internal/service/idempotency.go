package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"regexp"

	"github.com/roastedbeans/certification-authority/internal/apperr"
	"github.com/roastedbeans/certification-authority/internal/repository"
	"github.com/roastedbeans/certification-authority/internal/util/logger"
)

var idempotencyKeyPattern = regexp.MustCompile(`^[A-Za-z0-9_.:\-]{1,64}$`)

// Outcome is a rendered response that can be stored and replayed.
type Outcome struct {
	Status int
	Body   []byte
}

// Idempotency deduplicates retried requests carrying a client chosen key.
type Idempotency struct {
	store repository.IdempotencyStore
}

func NewIdempotency(store repository.IdempotencyStore) *Idempotency {
	return &Idempotency{store: store}
}

// RequestHash fingerprints a request body.
func RequestHash(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// Do runs fn at most once per (clientID, key). A completed key with the same
// request returns the stored outcome with replayed set. An empty key runs fn
// directly. fn's failures release the key so the client may retry.
func (i *Idempotency) Do(ctx context.Context, clientID, key string, body []byte, fn func(context.Context) (*Outcome, error)) (out *Outcome, replayed bool, err error) {
	if key == "" || i == nil || i.store == nil {
		out, err = fn(ctx)
		return out, false, err
	}
	if !idempotencyKeyPattern.MatchString(key) {
		return nil, false, apperr.Field(apperr.WrongType, "Idempotency-Key", apperr.CodeInvalidParameters)
	}

	scoped := clientID + ":" + key
	hash := RequestHash(body)
	existing, reserved, err := i.store.Reserve(ctx, scoped, hash)
	if err != nil {
		return nil, false, apperr.System(err, "reserve idempotency key")
	}
	if !reserved {
		switch {
		case existing.RequestHash != hash:
			return nil, false, apperr.Protocol(apperr.OutOfSequence, "", "idempotency key reused with a different request")
		case !existing.Completed:
			return nil, false, apperr.Protocol(apperr.OutOfSequence, "", "request with this idempotency key is in progress")
		}
		return &Outcome{Status: existing.Status, Body: existing.Body}, true, nil
	}

	out, err = fn(ctx)
	if err != nil {
		if rerr := i.store.Release(context.WithoutCancel(ctx), scoped); rerr != nil {
			logger.Warnw("release idempotency key", "key", scoped, "error", rerr)
		}
		return nil, false, err
	}
	rec := repository.IdempotencyRecord{RequestHash: hash, Status: out.Status, Body: out.Body}
	if cerr := i.store.Complete(context.WithoutCancel(ctx), scoped, rec); cerr != nil {
		logger.Warnw("complete idempotency key", "key", scoped, "error", cerr)
	}
	return out, false, nil
}
