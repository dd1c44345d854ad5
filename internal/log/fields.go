package log

import (
	"papelflow/internal/core"

	"github.com/shopspring/decimal"
)

// Field names shared by every component.
const (
	FieldComponent     = "component"
	FieldRequestID     = "request_id"
	FieldClientIP      = "client_ip"
	FieldMethod        = "method"
	FieldPath          = "path"
	FieldQuery         = "query"
	FieldStatusCode    = "status_code"
	FieldDuration      = "duration_ms"
	FieldUserAgent     = "user_agent"
	FieldSuccess       = "success"
	FieldError         = "error"
	FieldErrorKind     = "error_kind"
	FieldOperation     = "operation"
	FieldTransactionID = "transaction_id"
	FieldAccountID     = "account_id"
	FieldDestinationID = "destination_account_id"
	FieldObligationID  = "obligation_id"
	FieldKind          = "kind"
	FieldAmount        = "amount"
	FieldDate          = "date"
	FieldDueDate       = "due_date"
	FieldMonth         = "month"
	FieldCount         = "count"
)

const (
	ComponentApp       = "app"
	ComponentHTTP      = "http"
	ComponentLedger    = "ledger"
	ComponentScheduler = "scheduler"
	ComponentReminders = "reminders"
	ComponentInsights  = "insights"
	ComponentStorage   = "storage"
	ComponentAMQP      = "amqp"
	ComponentKafka     = "kafka"
	ComponentWorker    = "worker"
	ComponentSheets    = "sheets"
	ComponentCache     = "cache"
	ComponentRateLimit = "rate_limit"
	ComponentTrace     = "trace"
	ComponentBackend   = "backend"
	ComponentCLI       = "cli"
)

const (
	OpCreate      = "create"
	OpRead        = "read"
	OpDelete      = "delete"
	OpList        = "list"
	OpPost        = "post"
	OpRepair      = "repair"
	OpCompensate  = "compensate"
	OpMaterialize = "materialize"
	OpAdvance     = "advance"
	OpRemind      = "remind"
	OpPrune       = "prune"
	OpMirror      = "mirror"
	OpShutdown    = "shutdown"
	OpStartup     = "startup"
)

// LogFields builds key/value pairs for slog.
type LogFields map[string]any

func NewFields() LogFields {
	return make(LogFields)
}

func (f LogFields) WithComponent(component string) LogFields {
	f[FieldComponent] = component
	return f
}

func (f LogFields) WithRequestID(requestID string) LogFields {
	f[FieldRequestID] = requestID
	return f
}

func (f LogFields) WithClientIP(ip string) LogFields {
	f[FieldClientIP] = ip
	return f
}

// WithError records the message and its taxonomy bucket.
func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
		f[FieldErrorKind] = core.ErrorKind(err)
	}
	return f
}

func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

func (f LogFields) WithTransaction(tx core.Transaction) LogFields {
	f[FieldTransactionID] = tx.ID
	f[FieldKind] = string(tx.Kind)
	f[FieldAccountID] = tx.AccountID
	if tx.DestinationAccountID != "" {
		f[FieldDestinationID] = tx.DestinationAccountID
	}
	f[FieldDate] = tx.Date.String()
	return f.WithAmount(tx.Amount)
}

func (f LogFields) WithObligation(o core.RecurringObligation, due core.Date) LogFields {
	f[FieldObligationID] = o.ID
	f[FieldDueDate] = due.String()
	return f.WithAmount(o.Amount)
}

func (f LogFields) WithAmount(amount decimal.Decimal) LogFields {
	f[FieldAmount] = amount.String()
	return f
}

func (f LogFields) WithHTTPRequest(method, path, query, userAgent string) LogFields {
	f[FieldMethod] = method
	f[FieldPath] = path
	f[FieldQuery] = query
	f[FieldUserAgent] = userAgent
	return f
}

func (f LogFields) WithHTTPResponse(statusCode int, durationMs int64, success bool) LogFields {
	f[FieldStatusCode] = statusCode
	f[FieldDuration] = durationMs
	f[FieldSuccess] = success
	return f
}

// ToSlice converts the fields for slog.
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}
