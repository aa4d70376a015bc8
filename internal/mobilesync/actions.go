package mobilesync

import "context"

// ActionDispatcher hands a mobile-originated action off to the desktop side
// (the supervisor, PTY manager, etc). It is the one non-trivial external
// collaborator in the action-dispatch path; server.rs's dispatch_action_to_desktop
// plays the same role by forwarding to the Tauri event bus.
type ActionDispatcher interface {
	Dispatch(ctx context.Context, req ActionRequestV1) error
}

// ActionDispatcherFunc adapts a function to ActionDispatcher.
type ActionDispatcherFunc func(ctx context.Context, req ActionRequestV1) error

func (f ActionDispatcherFunc) Dispatch(ctx context.Context, req ActionRequestV1) error {
	return f(ctx, req)
}
