package accounting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// EventKey names a business event that posts to a configurable account.
type EventKey string

const (
	EventInventoryAsset         EventKey = "inventory.asset"
	EventAccountsPayable        EventKey = "accounts.payable"
	EventInventoryRawMaterials  EventKey = "inventory.raw_materials"
	EventInventoryFinishedGoods EventKey = "inventory.finished_goods"
	EventInventoryWasteExpense  EventKey = "inventory.waste_expense"
)

// FallbackCodes maps each event key to the account code used when no mapping row exists.
var FallbackCodes = map[EventKey]string{
	EventInventoryAsset:         "1300",
	EventAccountsPayable:        "2100",
	EventInventoryRawMaterials:  "1310",
	EventInventoryFinishedGoods: "1320",
	EventInventoryWasteExpense:  "5300",
}

// MappingPolicy decides what happens when an event key resolves to no account.
type MappingPolicy string

const (
	// MappingFailClosed aborts the whole operation with a configuration error.
	MappingFailClosed MappingPolicy = "fail_closed"
	// MappingFailOpen commits the stock mutation and skips the posting.
	MappingFailOpen MappingPolicy = "fail_open"
)

// ParseMappingPolicy accepts the MAPPING_POLICY values. Empty selects fail_closed.
func ParseMappingPolicy(raw string) (MappingPolicy, error) {
	switch MappingPolicy(strings.ToLower(strings.TrimSpace(raw))) {
	case "", MappingFailClosed:
		return MappingFailClosed, nil
	case MappingFailOpen:
		return MappingFailOpen, nil
	default:
		return "", fmt.Errorf("accounting: unknown mapping policy %q", raw)
	}
}

// UnresolvedRecorder observes postings skipped under the fail-open policy.
type UnresolvedRecorder interface {
	MappingUnresolved(eventKey string)
}

// Resolver maps event keys to accounts inside the caller's transaction.
type Resolver struct {
	policy   MappingPolicy
	logger   *slog.Logger
	recorder UnresolvedRecorder
}

// NewResolver constructs a Resolver. An empty policy selects fail_closed.
func NewResolver(policy MappingPolicy, logger *slog.Logger, recorder UnresolvedRecorder) *Resolver {
	if policy == "" {
		policy = MappingFailClosed
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{policy: policy, logger: logger, recorder: recorder}
}

// Policy reports the configured failure policy.
func (r *Resolver) Policy() MappingPolicy {
	return r.policy
}

// Lookup resolves one key: mapping row first, then the fallback account code.
// Inactive accounts count as unresolved.
func (r *Resolver) Lookup(ctx context.Context, tx TxRepository, key EventKey, fallbackCode string) (Account, error) {
	mapping, found, err := tx.GetMapping(ctx, string(key))
	if err != nil {
		return Account{}, err
	}
	if found {
		accounts, err := tx.GetAccountsByIDs(ctx, []int64{mapping.AccountID})
		if err != nil {
			return Account{}, err
		}
		if acc, ok := accounts[mapping.AccountID]; ok && acc.IsActive {
			return acc, nil
		}
		return Account{}, fmt.Errorf("%w: %s maps to missing or inactive account %d", ErrMappingNotFound, key, mapping.AccountID)
	}
	if fallbackCode == "" {
		return Account{}, fmt.Errorf("%w: %s has no fallback", ErrMappingNotFound, key)
	}
	acc, err := tx.GetAccountByCode(ctx, fallbackCode)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return Account{}, fmt.Errorf("%w: %s fallback %s", ErrMappingNotFound, key, fallbackCode)
		}
		return Account{}, err
	}
	if !acc.IsActive {
		return Account{}, fmt.Errorf("%w: %s fallback %s inactive", ErrMappingNotFound, key, fallbackCode)
	}
	return acc, nil
}

// Resolve looks up every key with its default fallback code. ok is false when the
// posting must be skipped under the fail-open policy; under fail-closed an unresolved
// key is returned as a configuration error.
func (r *Resolver) Resolve(ctx context.Context, tx TxRepository, keys ...EventKey) (map[EventKey]Account, bool, error) {
	out := make(map[EventKey]Account, len(keys))
	for _, key := range keys {
		acc, err := r.Lookup(ctx, tx, key, FallbackCodes[key])
		if err == nil {
			out[key] = acc
			continue
		}
		if !errors.Is(err, ErrMappingNotFound) || r.policy == MappingFailClosed {
			return nil, false, err
		}
		r.logger.WarnContext(ctx, "account mapping unresolved, posting skipped",
			slog.String("event_key", string(key)),
			slog.Any("error", err))
		if r.recorder != nil {
			r.recorder.MappingUnresolved(string(key))
		}
		return nil, false, nil
	}
	return out, true, nil
}
