package runtime

import "context"

type State string

const (
	StateRunning State = "running"
	StateExited  State = "exited"
	StateAbsent  State = "absent"
)

// LineSink receives human-readable progress lines from a runtime operation.
type LineSink func(line string)

// Runtime 是容器运行时原语层。Start/Stop 阻塞到操作完成为止，
// 过程输出通过 sink 逐行上报；sink 可以为 nil。
type Runtime interface {
	Start(ctx context.Context, names []string, sink LineSink) error
	Stop(ctx context.Context, names []string, sink LineSink) error
	Remove(ctx context.Context, names []string) error
	QueryState(ctx context.Context, names []string) (map[string]State, error)
}
