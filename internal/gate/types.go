package gate

import "lostack/internal/registry"

type DenyReason string

const (
	DenyMissingIdentity DenyReason = "MISSING_IDENTITY"
	DenyTargetNotFound  DenyReason = "TARGET_NOT_FOUND"
	DenyNotInGroups     DenyReason = "NOT_IN_GROUPS"
	DenyInternalError   DenyReason = "INTERNAL_ERROR"
)

// Request carries the already-verified caller identity plus the forwarded
// request metadata supplied by the reverse proxy.
type Request struct {
	User            string
	Groups          []string
	RemoteAddr      string
	ForwardedFor    string
	ForwardedHost   string
	ForwardedMethod string
	ForwardedURI    string
}

// Decision 为一次访问判定的结果。Allowed 为 true 时 Target 可能为 nil
// （管理员访问目录外的服务不需要目录条目）。
type Decision struct {
	Allowed     bool
	Reason      DenyReason
	ServiceName string
	Target      *registry.Target
}

func allow(serviceName string, target *registry.Target) Decision {
	return Decision{Allowed: true, ServiceName: serviceName, Target: target}
}

func deny(serviceName string, reason DenyReason) Decision {
	return Decision{Allowed: false, ServiceName: serviceName, Reason: reason}
}
