package dynamo

import (
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/docload/loader"
)

var (
	// ErrUnsupportedQuery is returned for query options DynamoDB cannot
	// evaluate: end cursors, distinct-on, and sorting on anything but the
	// key of an ancestor query.
	ErrUnsupportedQuery = errors.New("docload: query not supported by dynamodb backend")

	// ErrTransactionTooLarge is returned by Commit when the transaction
	// touches more items than a single TransactWriteItems call allows.
	ErrTransactionTooLarge = errors.New("docload: transaction exceeds 100 items")

	// ErrUnprocessed is reported for keys DynamoDB left unprocessed after
	// every retry.
	ErrUnprocessed = errors.New("docload: key left unprocessed after retries")

	// ErrInvalidCursor is returned for a start cursor this backend did not issue.
	ErrInvalidCursor = errors.New("docload: invalid cursor")
)

// Reasons DynamoDB gives for a cancelled transaction item.
const (
	reasonConditionFailed = "ConditionalCheckFailed"
	reasonConflict        = "TransactionConflict"
)

// mapTransactionError maps a TransactWriteItems error to loader errors
// using the actions that made up the call.
func mapTransactionError(err error, actions []action) error {
	if err == nil {
		return nil
	}

	var txErr *types.TransactionCanceledException
	if errors.As(err, &txErr) {
		for i, reason := range txErr.CancellationReasons {
			if reason.Code == nil {
				continue
			}
			if i >= len(actions) {
				if *reason.Code == reasonConflict {
					return fmt.Errorf("%w: %w", loader.ErrTransactionConflict, err)
				}
				continue
			}
			a := actions[i]
			switch *reason.Code {
			case reasonConflict:
				return fmt.Errorf("%w: %s", loader.ErrTransactionConflict, a.key)
			case reasonConditionFailed:
				// A failed revision check means someone else wrote the
				// item after this transaction read it.
				if a.checkRev {
					return fmt.Errorf("%w: %s changed", loader.ErrTransactionConflict, a.key)
				}
				switch a.op {
				case loader.OpInsert:
					return fmt.Errorf("%w: %s", loader.ErrAlreadyExists, a.key)
				case loader.OpUpdate:
					return fmt.Errorf("%w: %s", loader.ErrNotFound, a.key)
				}
				return fmt.Errorf("%w: %s", loader.ErrTransactionConflict, a.key)
			}
		}
	}

	var conflict *types.TransactionConflictException
	if errors.As(err, &conflict) {
		return fmt.Errorf("%w: %w", loader.ErrTransactionConflict, err)
	}
	return err
}
