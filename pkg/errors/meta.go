package errors

// MetaError is a specialized error type for internal/meta's table-registry
// and checkpoint-bookkeeping failures.
type MetaError struct {
	*baseError
	uri string
}

// NewMetaError creates a new metadata-specific error with the provided context.
func NewMetaError(err error, code ErrorCode, msg string) *MetaError {
	return &MetaError{baseError: NewBaseError(err, code, msg)}
}

// WithDetail adds contextual information while maintaining the MetaError type.
func (me *MetaError) WithDetail(key string, value any) *MetaError {
	me.baseError.WithDetail(key, value)
	return me
}

// WithURI records the table URI the failure concerns.
func (me *MetaError) WithURI(uri string) *MetaError {
	me.uri = uri
	return me
}

// URI returns the table URI associated with the error, if any.
func (me *MetaError) URI() string { return me.uri }

// NewTableExistsError reports that uri is already registered.
func NewTableExistsError(uri string) *MetaError {
	return NewMetaError(nil, ErrorCodeTableExists, "table already registered").WithURI(uri)
}

// NewTableNotFoundError reports that uri has no registered metadata.
func NewTableNotFoundError(uri string) *MetaError {
	return NewMetaError(nil, ErrorCodeTableNotFound, "table not found").WithURI(uri)
}
