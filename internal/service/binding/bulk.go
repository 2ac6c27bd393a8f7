package binding

import (
	"errors"
	"fmt"

	"github.com/hasanmaki/mkit-idv-next/internal/domain"
	"github.com/hasanmaki/mkit-idv-next/internal/observability"
)

// BulkItem is one input row of a bulk binding request: either a direct
// {server_id, account_id} pair, or a {port, msisdn, batch_id} lookup key that
// resolves to IDs first.
type BulkItem struct {
	ServerID  *int64
	AccountID *int64
	Port      *int
	MSISDN    *string
	BatchID   *string
}

// BulkItemResult is the per-item outcome of a bulk binding request.
type BulkItemResult struct {
	Status   string // created | would_create | failed
	BindingID int64
	Reason   string
}

// BulkResult is the overall outcome of a bulk binding request.
type BulkResult struct {
	Items    []BulkItemResult
	Created  int
	WouldCreate int
	Failed   int
}

// CreateBulk resolves, validates, and (unless dryRun) creates a binding for
// each item, rejecting in-batch duplicates and already-active servers or
// accounts, stopping at the first failure if stopOnFirstError is set.
func (s *Service) CreateBulk(ctx domain.Context, items []BulkItem, dryRun, stopOnFirstError bool) (BulkResult, error) {
	traceID := observability.TraceIDFromContext(ctx)
	var result BulkResult

	seenServers := map[int64]bool{}
	seenAccounts := map[int64]bool{}

	for _, item := range items {
		serverID, accountID, err := s.resolveBulkItem(ctx, item)
		if err != nil {
			result.Items = append(result.Items, BulkItemResult{Status: "failed",
				Reason: domain.NewValidationError("binding_bulk_resolve_failed", err.Error(), traceID).Error()})
			result.Failed++
			if stopOnFirstError {
				break
			}
			continue
		}

		if seenServers[serverID] {
			result.Items = append(result.Items, BulkItemResult{Status: "failed",
				Reason: domain.NewValidationError("binding_bulk_duplicate_server",
					fmt.Sprintf("server %d duplicated within this batch", serverID), traceID).Error()})
			result.Failed++
			if stopOnFirstError {
				break
			}
			continue
		}
		if seenAccounts[accountID] {
			result.Items = append(result.Items, BulkItemResult{Status: "failed",
				Reason: domain.NewValidationError("binding_bulk_duplicate_account",
					fmt.Sprintf("account %d duplicated within this batch", accountID), traceID).Error()})
			result.Failed++
			if stopOnFirstError {
				break
			}
			continue
		}

		if _, active, err := s.Bindings.GetActiveByServer(ctx, serverID); err != nil {
			return result, fmt.Errorf("op=binding.bulk.check_server: %w", err)
		} else if active {
			result.Items = append(result.Items, BulkItemResult{Status: "failed",
				Reason: domain.NewValidationError("binding_server_active",
					fmt.Sprintf("server %d already has an active binding", serverID), traceID).Error()})
			result.Failed++
			if stopOnFirstError {
				break
			}
			continue
		}
		if _, active, err := s.Bindings.GetActiveByAccount(ctx, accountID); err != nil {
			return result, fmt.Errorf("op=binding.bulk.check_account: %w", err)
		} else if active {
			result.Items = append(result.Items, BulkItemResult{Status: "failed",
				Reason: domain.NewValidationError("binding_account_active",
					fmt.Sprintf("account %d is already bound to another server", accountID), traceID).Error()})
			result.Failed++
			if stopOnFirstError {
				break
			}
			continue
		}

		seenServers[serverID] = true
		seenAccounts[accountID] = true

		if dryRun {
			result.Items = append(result.Items, BulkItemResult{Status: "would_create"})
			result.WouldCreate++
			continue
		}

		b, err := s.CreateBinding(ctx, serverID, accountID, nil)
		if err != nil {
			result.Items = append(result.Items, BulkItemResult{Status: "failed", Reason: err.Error()})
			result.Failed++
			if stopOnFirstError {
				break
			}
			continue
		}
		result.Items = append(result.Items, BulkItemResult{Status: "created", BindingID: b.ID})
		result.Created++
	}

	return result, nil
}

func (s *Service) resolveBulkItem(ctx domain.Context, item BulkItem) (serverID int64, accountID int64, err error) {
	if item.ServerID != nil && item.AccountID != nil {
		return *item.ServerID, *item.AccountID, nil
	}
	if item.Port == nil || item.MSISDN == nil {
		return 0, 0, errors.New("item must supply either server_id+account_id or port+msisdn")
	}
	servers, err := s.Servers.List(ctx, domain.ServerFilter{})
	if err != nil {
		return 0, 0, fmt.Errorf("op=binding.bulk.resolve.list_servers: %w", err)
	}
	var server *domain.ServerInstance
	for i := range servers {
		if servers[i].Port == *item.Port {
			server = &servers[i]
			break
		}
	}
	if server == nil {
		return 0, 0, fmt.Errorf("no server instance found listening on port %d", *item.Port)
	}

	batchID := ""
	if item.BatchID != nil {
		batchID = *item.BatchID
	}
	account, err := s.Accounts.GetByMSISDNBatch(ctx, *item.MSISDN, batchID)
	if err != nil {
		return 0, 0, fmt.Errorf("no account found for msisdn=%s batch_id=%s", *item.MSISDN, batchID)
	}
	return server.ID, account.ID, nil
}
