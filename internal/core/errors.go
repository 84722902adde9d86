package core

import (
	"errors"
	"fmt"
)

// Sentinels for errors.Is matching. The typed errors below unwrap to the
// sentinel of their Kind.
var (
	ErrServiceUnavailable  = errors.New("interpretation service unavailable")
	ErrInvalidResponse     = errors.New("invalid interpretation response")
	ErrRemoteUnavailable   = errors.New("mirror unavailable")
	ErrSchemaMismatch      = errors.New("mirror schema mismatch")
	ErrConstraintViolation = errors.New("ledger constraint violation")
	ErrStorageUnavailable  = errors.New("ledger storage unavailable")
	ErrNotFound            = errors.New("not found")
)

type InterpretationKind int

const (
	ServiceUnavailable InterpretationKind = iota + 1
	InvalidResponse
	InvalidAmount
)

func (k InterpretationKind) String() string {
	switch k {
	case ServiceUnavailable:
		return "service_unavailable"
	case InvalidResponse:
		return "invalid_response"
	case InvalidAmount:
		return "invalid_amount"
	}
	return "unknown"
}

func (k InterpretationKind) sentinel() error {
	switch k {
	case ServiceUnavailable:
		return ErrServiceUnavailable
	case InvalidResponse:
		return ErrInvalidResponse
	case InvalidAmount:
		return ErrInvalidAmount
	}
	return nil
}

// InterpretationError is returned when raw text cannot be turned into a
// structured transaction.
type InterpretationError struct {
	Kind InterpretationKind
	Err  error
}

func (e *InterpretationError) Error() string {
	if e.Err == nil {
		return "interpret: " + e.Kind.String()
	}
	return fmt.Sprintf("interpret: %s: %v", e.Kind, e.Err)
}

func (e *InterpretationError) Unwrap() []error {
	return []error{e.Kind.sentinel(), e.Err}
}

// NewInterpretationError wraps err with kind.
func NewInterpretationError(kind InterpretationKind, err error) *InterpretationError {
	return &InterpretationError{Kind: kind, Err: err}
}

type SyncKind int

const (
	RemoteUnavailable SyncKind = iota + 1
	SchemaMismatch
)

func (k SyncKind) String() string {
	switch k {
	case RemoteUnavailable:
		return "remote_unavailable"
	case SchemaMismatch:
		return "schema_mismatch"
	}
	return "unknown"
}

// SyncError is a failure talking to the mirror. It never implies data loss:
// the ledger already holds the record.
type SyncError struct {
	Kind  SyncKind
	Sheet string
	Err   error
}

func (e *SyncError) Error() string {
	msg := "mirror: " + e.Kind.String()
	if e.Sheet != "" {
		msg += " (" + e.Sheet + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SyncError) Unwrap() []error {
	s := ErrRemoteUnavailable
	if e.Kind == SchemaMismatch {
		s = ErrSchemaMismatch
	}
	return []error{s, e.Err}
}

func NewSyncError(kind SyncKind, sheet string, err error) *SyncError {
	return &SyncError{Kind: kind, Sheet: sheet, Err: err}
}

type LedgerKind int

const (
	ConstraintViolation LedgerKind = iota + 1
	StorageUnavailable
)

func (k LedgerKind) String() string {
	switch k {
	case ConstraintViolation:
		return "constraint_violation"
	case StorageUnavailable:
		return "storage_unavailable"
	}
	return "unknown"
}

// LedgerError is a failure of the source of truth.
type LedgerError struct {
	Kind LedgerKind
	Op   string
	Err  error
}

func (e *LedgerError) Error() string {
	msg := "ledger"
	if e.Op != "" {
		msg += " " + e.Op
	}
	msg += ": " + e.Kind.String()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *LedgerError) Unwrap() []error {
	s := ErrStorageUnavailable
	if e.Kind == ConstraintViolation {
		s = ErrConstraintViolation
	}
	return []error{s, e.Err}
}

func NewLedgerError(kind LedgerKind, op string, err error) *LedgerError {
	return &LedgerError{Kind: kind, Op: op, Err: err}
}

// User-facing messages, one per failure category.
const (
	MsgTemporary    = "Estou com dificuldade para entender mensagens agora. Tente novamente em alguns minutos."
	MsgInvalidInput = "Não consegui entender esse registro. Informe descrição e valor positivo, por exemplo: \"almoço 35 reais\"."
	MsgStorage      = "Não consegui salvar agora. Nada foi registrado, tente novamente."
	MsgMirror       = "Registro salvo. A planilha será atualizada em breve."
	MsgNotFound     = "Não encontrei esse registro."
	MsgGeneric      = "Algo deu errado. Tente novamente."
)

// UserMessage maps err to a short non-technical Portuguese message.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrServiceUnavailable):
		return MsgTemporary
	case errors.Is(err, ErrInvalidResponse), errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrEmptyDescription), errors.Is(err, ErrFutureDate):
		return MsgInvalidInput
	case errors.Is(err, ErrConstraintViolation), errors.Is(err, ErrStorageUnavailable):
		return MsgStorage
	case errors.Is(err, ErrRemoteUnavailable), errors.Is(err, ErrSchemaMismatch):
		return MsgMirror
	case errors.Is(err, ErrNotFound):
		return MsgNotFound
	}
	return MsgGeneric
}
