package plugin

import xerrors "PluginSystem/internal/errors"

// Error codes produced by the plugin manager.
const (
	CodeNotInstalled        xerrors.Code = "PLUGIN_NOT_INSTALLED"
	CodeAlreadyInstalled    xerrors.Code = "PLUGIN_ALREADY_INSTALLED"
	CodeLimitExceeded       xerrors.Code = "PLUGIN_LIMIT_EXCEEDED"
	CodeSameVersion         xerrors.Code = "PLUGIN_SAME_VERSION"
	CodeInvalid             xerrors.Code = "PLUGIN_INVALID"
	CodeDependency          xerrors.Code = "PLUGIN_DEPENDENCY"
	CodeCircularDependency  xerrors.Code = "PLUGIN_CIRCULAR_DEPENDENCY"
	CodeHookFailed          xerrors.Code = "PLUGIN_HOOK_FAILED"
	CodeInitFailed          xerrors.Code = "PLUGIN_INIT_FAILED"
	CodeHandlerRegistration xerrors.Code = "PLUGIN_HANDLER_CONFLICT"
)

// Sentinels for errors.Is. Matching is by code, so the message of the
// returned error may differ.
var (
	ErrNotInstalled       = xerrors.New(CodeNotInstalled, "")
	ErrAlreadyInstalled   = xerrors.New(CodeAlreadyInstalled, "")
	ErrLimitExceeded      = xerrors.New(CodeLimitExceeded, "")
	ErrSameVersion        = xerrors.New(CodeSameVersion, "")
	ErrInvalid            = xerrors.New(CodeInvalid, "")
	ErrDependency         = xerrors.New(CodeDependency, "")
	ErrCircularDependency = xerrors.New(CodeCircularDependency, "")
	ErrHookFailed         = xerrors.New(CodeHookFailed, "")
	ErrInitFailed         = xerrors.New(CodeInitFailed, "")
	ErrHandlerConflict    = xerrors.New(CodeHandlerRegistration, "")
)

func init() {
	xerrors.Register(CodeNotInstalled, xerrors.Attributes{Message: "plugin not installed", Severity: xerrors.SeverityInfo})
	xerrors.Register(CodeAlreadyInstalled, xerrors.Attributes{Message: "plugin already installed", Severity: xerrors.SeverityInfo})
	xerrors.Register(CodeLimitExceeded, xerrors.Attributes{Message: "plugin limit exceeded", Severity: xerrors.SeverityWarning, Alert: true})
	xerrors.Register(CodeSameVersion, xerrors.Attributes{Message: "plugin version unchanged", Severity: xerrors.SeverityInfo})
	xerrors.Register(CodeInvalid, xerrors.Attributes{Message: "invalid plugin definition", Severity: xerrors.SeverityInfo})
	xerrors.Register(CodeDependency, xerrors.Attributes{Message: "plugin dependencies not satisfied", Severity: xerrors.SeverityWarning})
	xerrors.Register(CodeCircularDependency, xerrors.Attributes{Message: "circular plugin dependency", Severity: xerrors.SeverityWarning})
	xerrors.Register(CodeHookFailed, xerrors.Attributes{Message: "plugin hook failed", Severity: xerrors.SeverityWarning, Alert: true})
	xerrors.Register(CodeInitFailed, xerrors.Attributes{Message: "plugin init failed", Severity: xerrors.SeverityCritical, Alert: true})
	xerrors.Register(CodeHandlerRegistration, xerrors.Attributes{Message: "handler already registered", Severity: xerrors.SeverityInfo})
}

func newError(code xerrors.Code, format string, args ...any) *xerrors.Error {
	return xerrors.Newf(code, format, args...)
}

func wrapError(code xerrors.Code, cause error, format string, args ...any) *xerrors.Error {
	return xerrors.Wrapf(code, cause, format, args...)
}
