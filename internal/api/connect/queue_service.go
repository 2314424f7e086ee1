package connect

import (
	"context"
	"net/http"
	"time"

	"connectrpc.com/connect"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/storybox/internal/app/advance"
	"github.com/osa030/storybox/internal/app/notification"
	"github.com/osa030/storybox/internal/app/orchestrator"
	"github.com/osa030/storybox/internal/app/playback"
	"github.com/osa030/storybox/internal/app/queue"
	"github.com/osa030/storybox/internal/infra/audio"
	"github.com/osa030/storybox/internal/infra/library"
)

// QueueServiceName is the fully-qualified name of the queue service.
const QueueServiceName = "storybox.v1.QueueService"

// Procedure paths.
const (
	QueueServiceGetStatusProcedure      = "/storybox.v1.QueueService/GetStatus"
	QueueServiceAddProcedure            = "/storybox.v1.QueueService/Add"
	QueueServiceRemoveProcedure         = "/storybox.v1.QueueService/Remove"
	QueueServiceDragProcedure           = "/storybox.v1.QueueService/Drag"
	QueueServiceReorderProcedure        = "/storybox.v1.QueueService/Reorder"
	QueueServiceClearProcedure          = "/storybox.v1.QueueService/Clear"
	QueueServicePlayAtProcedure         = "/storybox.v1.QueueService/PlayAt"
	QueueServiceNextProcedure           = "/storybox.v1.QueueService/Next"
	QueueServicePrevProcedure           = "/storybox.v1.QueueService/Prev"
	QueueServiceStopProcedure           = "/storybox.v1.QueueService/Stop"
	QueueServiceTogglePauseProcedure    = "/storybox.v1.QueueService/TogglePause"
	QueueServiceSeekProcedure           = "/storybox.v1.QueueService/Seek"
	QueueServiceSetVolumeProcedure      = "/storybox.v1.QueueService/SetVolume"
	QueueServiceSetRateProcedure        = "/storybox.v1.QueueService/SetRate"
	QueueServiceToggleMuteProcedure     = "/storybox.v1.QueueService/ToggleMute"
	QueueServiceSetShuffleProcedure     = "/storybox.v1.QueueService/SetShuffle"
	QueueServiceSetRepeatAllProcedure   = "/storybox.v1.QueueService/SetRepeatAll"
	QueueServiceToggleRemoteProcedure   = "/storybox.v1.QueueService/ToggleRemote"
	QueueServiceSetVisibilityProcedure  = "/storybox.v1.QueueService/SetVisibility"
	QueueServiceUpdateStoryProcedure    = "/storybox.v1.QueueService/UpdateStory"
	QueueServiceToggleFavoriteProcedure = "/storybox.v1.QueueService/ToggleFavorite"
	QueueServiceListLibraryProcedure    = "/storybox.v1.QueueService/ListLibrary"
	QueueServiceWatchProcedure          = "/storybox.v1.QueueService/Watch"
)

// readOnlyProcedures never require the control token.
var readOnlyProcedures = map[string]bool{
	QueueServiceGetStatusProcedure:   true,
	QueueServiceListLibraryProcedure: true,
	QueueServiceWatchProcedure:       true,
}

const watchBufferSize = 16

// QueueService implements the QueueService RPC.
type QueueService struct {
	manager *orchestrator.Manager
}

// NewQueueService creates a new QueueService.
func NewQueueService(manager *orchestrator.Manager) *QueueService {
	return &QueueService{manager: manager}
}

// NewQueueServiceHandler builds the HTTP handler serving every procedure and
// returns the path prefix to mount it on.
func NewQueueServiceHandler(svc *QueueService, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{WithJSONCodec()}, opts...)

	mux := http.NewServeMux()
	mux.Handle(QueueServiceGetStatusProcedure, connect.NewUnaryHandler(QueueServiceGetStatusProcedure, svc.GetStatus, opts...))
	mux.Handle(QueueServiceAddProcedure, connect.NewUnaryHandler(QueueServiceAddProcedure, svc.Add, opts...))
	mux.Handle(QueueServiceRemoveProcedure, connect.NewUnaryHandler(QueueServiceRemoveProcedure, svc.Remove, opts...))
	mux.Handle(QueueServiceDragProcedure, connect.NewUnaryHandler(QueueServiceDragProcedure, svc.Drag, opts...))
	mux.Handle(QueueServiceReorderProcedure, connect.NewUnaryHandler(QueueServiceReorderProcedure, svc.Reorder, opts...))
	mux.Handle(QueueServiceClearProcedure, connect.NewUnaryHandler(QueueServiceClearProcedure, svc.Clear, opts...))
	mux.Handle(QueueServicePlayAtProcedure, connect.NewUnaryHandler(QueueServicePlayAtProcedure, svc.PlayAt, opts...))
	mux.Handle(QueueServiceNextProcedure, connect.NewUnaryHandler(QueueServiceNextProcedure, svc.Next, opts...))
	mux.Handle(QueueServicePrevProcedure, connect.NewUnaryHandler(QueueServicePrevProcedure, svc.Prev, opts...))
	mux.Handle(QueueServiceStopProcedure, connect.NewUnaryHandler(QueueServiceStopProcedure, svc.Stop, opts...))
	mux.Handle(QueueServiceTogglePauseProcedure, connect.NewUnaryHandler(QueueServiceTogglePauseProcedure, svc.TogglePause, opts...))
	mux.Handle(QueueServiceSeekProcedure, connect.NewUnaryHandler(QueueServiceSeekProcedure, svc.Seek, opts...))
	mux.Handle(QueueServiceSetVolumeProcedure, connect.NewUnaryHandler(QueueServiceSetVolumeProcedure, svc.SetVolume, opts...))
	mux.Handle(QueueServiceSetRateProcedure, connect.NewUnaryHandler(QueueServiceSetRateProcedure, svc.SetRate, opts...))
	mux.Handle(QueueServiceToggleMuteProcedure, connect.NewUnaryHandler(QueueServiceToggleMuteProcedure, svc.ToggleMute, opts...))
	mux.Handle(QueueServiceSetShuffleProcedure, connect.NewUnaryHandler(QueueServiceSetShuffleProcedure, svc.SetShuffle, opts...))
	mux.Handle(QueueServiceSetRepeatAllProcedure, connect.NewUnaryHandler(QueueServiceSetRepeatAllProcedure, svc.SetRepeatAll, opts...))
	mux.Handle(QueueServiceToggleRemoteProcedure, connect.NewUnaryHandler(QueueServiceToggleRemoteProcedure, svc.ToggleRemote, opts...))
	mux.Handle(QueueServiceSetVisibilityProcedure, connect.NewUnaryHandler(QueueServiceSetVisibilityProcedure, svc.SetVisibility, opts...))
	mux.Handle(QueueServiceUpdateStoryProcedure, connect.NewUnaryHandler(QueueServiceUpdateStoryProcedure, svc.UpdateStory, opts...))
	mux.Handle(QueueServiceToggleFavoriteProcedure, connect.NewUnaryHandler(QueueServiceToggleFavoriteProcedure, svc.ToggleFavorite, opts...))
	mux.Handle(QueueServiceListLibraryProcedure, connect.NewUnaryHandler(QueueServiceListLibraryProcedure, svc.ListLibrary, opts...))
	mux.Handle(QueueServiceWatchProcedure, connect.NewServerStreamHandler(QueueServiceWatchProcedure, svc.Watch, opts...))

	return "/" + QueueServiceName + "/", mux
}

// GetStatus returns the combined orchestrator state.
func (s *QueueService) GetStatus(
	ctx context.Context,
	req *connect.Request[GetStatusRequest],
) (*connect.Response[GetStatusResponse], error) {
	return connect.NewResponse(toStatusResponse(s.manager.Status())), nil
}

// Add appends a library story to the queue.
func (s *QueueService) Add(
	ctx context.Context,
	req *connect.Request[StoryRequest],
) (*connect.Response[AddResponse], error) {
	added, err := s.manager.Add(req.Msg.StoryID)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&AddResponse{Added: added}), nil
}

// Remove removes a story from the queue.
func (s *QueueService) Remove(
	ctx context.Context,
	req *connect.Request[StoryRequest],
) (*connect.Response[Empty], error) {
	if err := s.manager.Remove(req.Msg.StoryID); err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&Empty{}), nil
}

// Drag moves one story into another's position.
func (s *QueueService) Drag(
	ctx context.Context,
	req *connect.Request[DragRequest],
) (*connect.Response[OrderResponse], error) {
	order := s.manager.Drag(req.Msg.SourceID, req.Msg.TargetID)
	return connect.NewResponse(&OrderResponse{Order: order}), nil
}

// Reorder replaces the queue order. Unknown IDs are dropped and missing ones
// keep their relative order at the end.
func (s *QueueService) Reorder(
	ctx context.Context,
	req *connect.Request[ReorderRequest],
) (*connect.Response[OrderResponse], error) {
	order := s.manager.Reorder(req.Msg.Order)
	return connect.NewResponse(&OrderResponse{Order: order}), nil
}

// Clear empties the queue.
func (s *QueueService) Clear(
	ctx context.Context,
	req *connect.Request[Empty],
) (*connect.Response[Empty], error) {
	s.manager.Clear()
	return connect.NewResponse(&Empty{}), nil
}

// PlayAt starts local playback at an index.
func (s *QueueService) PlayAt(
	ctx context.Context,
	req *connect.Request[PlayAtRequest],
) (*connect.Response[StepResponse], error) {
	step, err := s.manager.PlayAt(req.Msg.Index)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(toStepResponse(step)), nil
}

// Next advances on the requested target.
func (s *QueueService) Next(
	ctx context.Context,
	req *connect.Request[TargetRequest],
) (*connect.Response[StepResponse], error) {
	return s.step(ctx, req.Msg.Target, s.manager.Next)
}

// Prev steps back on the requested target.
func (s *QueueService) Prev(
	ctx context.Context,
	req *connect.Request[TargetRequest],
) (*connect.Response[StepResponse], error) {
	return s.step(ctx, req.Msg.Target, s.manager.Prev)
}

func (s *QueueService) step(
	ctx context.Context,
	rawTarget string,
	move func(context.Context, orchestrator.Target) (advance.Step, error),
) (*connect.Response[StepResponse], error) {
	target, err := orchestrator.ParseTarget(rawTarget)
	if err != nil {
		return nil, toConnectError(err)
	}
	step, err := move(ctx, target)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(toStepResponse(step)), nil
}

// Stop stops playback on the requested target.
func (s *QueueService) Stop(
	ctx context.Context,
	req *connect.Request[TargetRequest],
) (*connect.Response[Empty], error) {
	target, err := orchestrator.ParseTarget(req.Msg.Target)
	if err != nil {
		return nil, toConnectError(err)
	}
	if err := s.manager.Stop(ctx, target); err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&Empty{}), nil
}

// TogglePause pauses or resumes local playback.
func (s *QueueService) TogglePause(
	ctx context.Context,
	req *connect.Request[Empty],
) (*connect.Response[Empty], error) {
	if err := s.manager.TogglePause(); err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&Empty{}), nil
}

// Seek moves local playback.
func (s *QueueService) Seek(
	ctx context.Context,
	req *connect.Request[SeekRequest],
) (*connect.Response[Empty], error) {
	if req.Msg.PositionMS < 0 {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("position must not be negative"))
	}
	if err := s.manager.Seek(time.Duration(req.Msg.PositionMS) * time.Millisecond); err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&Empty{}), nil
}

// SetVolume sets the local volume.
func (s *QueueService) SetVolume(
	ctx context.Context,
	req *connect.Request[SetVolumeRequest],
) (*connect.Response[Empty], error) {
	if err := s.manager.SetVolume(req.Msg.Volume); err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&Empty{}), nil
}

// SetRate sets the local playback rate.
func (s *QueueService) SetRate(
	ctx context.Context,
	req *connect.Request[SetRateRequest],
) (*connect.Response[Empty], error) {
	if err := s.manager.SetRate(req.Msg.Rate); err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&Empty{}), nil
}

// ToggleMute flips the local mute state.
func (s *QueueService) ToggleMute(
	ctx context.Context,
	req *connect.Request[Empty],
) (*connect.Response[ToggleMuteResponse], error) {
	return connect.NewResponse(&ToggleMuteResponse{Muted: s.manager.ToggleMute()}), nil
}

// SetShuffle enables or disables shuffle.
func (s *QueueService) SetShuffle(
	ctx context.Context,
	req *connect.Request[FlagRequest],
) (*connect.Response[Empty], error) {
	s.manager.SetShuffle(req.Msg.Enabled)
	return connect.NewResponse(&Empty{}), nil
}

// SetRepeatAll enables or disables repeat-all.
func (s *QueueService) SetRepeatAll(
	ctx context.Context,
	req *connect.Request[FlagRequest],
) (*connect.Response[Empty], error) {
	s.manager.SetRepeatAll(req.Msg.Enabled)
	return connect.NewResponse(&Empty{}), nil
}

// ToggleRemote starts or stops a story on the remote device.
func (s *QueueService) ToggleRemote(
	ctx context.Context,
	req *connect.Request[StoryRequest],
) (*connect.Response[Empty], error) {
	if req.Msg.StoryID == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("story id required"))
	}
	if err := s.manager.ToggleRemote(ctx, req.Msg.StoryID); err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&Empty{}), nil
}

// SetVisibility gates remote status polling.
func (s *QueueService) SetVisibility(
	ctx context.Context,
	req *connect.Request[SetVisibilityRequest],
) (*connect.Response[Empty], error) {
	s.manager.SetVisible(req.Msg.Visible)
	return connect.NewResponse(&Empty{}), nil
}

// UpdateStory edits a story without interrupting playback.
func (s *QueueService) UpdateStory(
	ctx context.Context,
	req *connect.Request[UpdateStoryRequest],
) (*connect.Response[StoryResponse], error) {
	st, err := s.manager.UpdateStory(ctx, req.Msg.StoryID, req.Msg.Patch)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&StoryResponse{Story: st}), nil
}

// ToggleFavorite flips a story's favorite flag.
func (s *QueueService) ToggleFavorite(
	ctx context.Context,
	req *connect.Request[StoryRequest],
) (*connect.Response[StoryResponse], error) {
	st, err := s.manager.ToggleFavorite(ctx, req.Msg.StoryID)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&StoryResponse{Story: st}), nil
}

// ListLibrary returns the library listing.
func (s *QueueService) ListLibrary(
	ctx context.Context,
	req *connect.Request[Empty],
) (*connect.Response[ListLibraryResponse], error) {
	return connect.NewResponse(&ListLibraryResponse{Stories: s.manager.ListLibrary()}), nil
}

// Watch streams the state after every change, starting with the current state.
func (s *QueueService) Watch(
	ctx context.Context,
	req *connect.Request[Empty],
	stream *connect.ServerStream[WatchEvent],
) error {
	notifications := s.manager.Notifications()

	// Subscribe before the initial send so no change falls in between.
	updates := make(chan notification.Notification, watchBufferSize)
	subscriptionID := notifications.Subscribe(notification.StreamFunc(func(n notification.Notification) error {
		select {
		case updates <- n:
		default:
			// A pending event already carries a newer status.
		}
		return nil
	}))
	defer notifications.Unsubscribe(subscriptionID)

	initial := toStatusResponse(s.manager.Status())
	if err := stream.Send(&WatchEvent{Type: watchTypeInitial, SequenceNo: initial.SequenceNo, Status: *initial}); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.manager.Done():
			return nil
		case n := <-updates:
			status := toStatusResponse(s.manager.Status())
			if err := stream.Send(&WatchEvent{Type: n.Type.String(), SequenceNo: n.SequenceNo, Status: *status}); err != nil {
				zlog.Debug().Err(err).Msg("api: watch stream closed")
				return err
			}
		}
	}
}

// toConnectError maps domain errors to Connect codes.
func toConnectError(err error) error {
	if err == nil {
		return nil
	}
	var connectErr *connect.Error
	if errors.As(err, &connectErr) {
		return connectErr
	}

	switch {
	case errors.Is(err, orchestrator.ErrUnknownStory),
		errors.Is(err, queue.ErrNotInQueue),
		errors.Is(err, library.ErrNotFound):
		return connect.NewError(connect.CodeNotFound, err)

	case errors.Is(err, orchestrator.ErrInvalidTarget),
		errors.Is(err, advance.ErrIndexOutOfRange),
		errors.Is(err, playback.ErrInvalidVolume),
		errors.Is(err, playback.ErrInvalidRate),
		errors.Is(err, audio.ErrRateUnsupported):
		return connect.NewError(connect.CodeInvalidArgument, err)

	case errors.Is(err, playback.ErrNoTrack),
		errors.Is(err, playback.ErrNotPlaying),
		errors.Is(err, playback.ErrNotPaused):
		return connect.NewError(connect.CodeFailedPrecondition, err)

	case errors.Is(err, orchestrator.ErrRemoteBusy):
		return connect.NewError(connect.CodeUnavailable, err)

	case errors.Is(err, context.Canceled):
		return connect.NewError(connect.CodeCanceled, err)

	case errors.Is(err, context.DeadlineExceeded):
		return connect.NewError(connect.CodeDeadlineExceeded, err)

	default:
		zlog.Error().Err(err).Msg("api: internal error")
		return connect.NewError(connect.CodeInternal, err)
	}
}
