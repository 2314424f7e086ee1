package connect

import (
	"context"
	"strings"

	"connectrpc.com/connect"
)

// QueueServiceClient is a client for the QueueService.
type QueueServiceClient struct {
	getStatus      *connect.Client[GetStatusRequest, GetStatusResponse]
	add            *connect.Client[StoryRequest, AddResponse]
	remove         *connect.Client[StoryRequest, Empty]
	drag           *connect.Client[DragRequest, OrderResponse]
	reorder        *connect.Client[ReorderRequest, OrderResponse]
	clear          *connect.Client[Empty, Empty]
	playAt         *connect.Client[PlayAtRequest, StepResponse]
	next           *connect.Client[TargetRequest, StepResponse]
	prev           *connect.Client[TargetRequest, StepResponse]
	stop           *connect.Client[TargetRequest, Empty]
	togglePause    *connect.Client[Empty, Empty]
	seek           *connect.Client[SeekRequest, Empty]
	setVolume      *connect.Client[SetVolumeRequest, Empty]
	setRate        *connect.Client[SetRateRequest, Empty]
	toggleMute     *connect.Client[Empty, ToggleMuteResponse]
	setShuffle     *connect.Client[FlagRequest, Empty]
	setRepeatAll   *connect.Client[FlagRequest, Empty]
	toggleRemote   *connect.Client[StoryRequest, Empty]
	setVisibility  *connect.Client[SetVisibilityRequest, Empty]
	updateStory    *connect.Client[UpdateStoryRequest, StoryResponse]
	toggleFavorite *connect.Client[StoryRequest, StoryResponse]
	listLibrary    *connect.Client[Empty, ListLibraryResponse]
	watch          *connect.Client[Empty, WatchEvent]
}

// NewQueueServiceClient constructs a client for the QueueService at baseURL.
func NewQueueServiceClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *QueueServiceClient {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{connect.WithCodec(NewJSONCodec())}, opts...)
	return &QueueServiceClient{
		getStatus:      connect.NewClient[GetStatusRequest, GetStatusResponse](httpClient, baseURL+QueueServiceGetStatusProcedure, opts...),
		add:            connect.NewClient[StoryRequest, AddResponse](httpClient, baseURL+QueueServiceAddProcedure, opts...),
		remove:         connect.NewClient[StoryRequest, Empty](httpClient, baseURL+QueueServiceRemoveProcedure, opts...),
		drag:           connect.NewClient[DragRequest, OrderResponse](httpClient, baseURL+QueueServiceDragProcedure, opts...),
		reorder:        connect.NewClient[ReorderRequest, OrderResponse](httpClient, baseURL+QueueServiceReorderProcedure, opts...),
		clear:          connect.NewClient[Empty, Empty](httpClient, baseURL+QueueServiceClearProcedure, opts...),
		playAt:         connect.NewClient[PlayAtRequest, StepResponse](httpClient, baseURL+QueueServicePlayAtProcedure, opts...),
		next:           connect.NewClient[TargetRequest, StepResponse](httpClient, baseURL+QueueServiceNextProcedure, opts...),
		prev:           connect.NewClient[TargetRequest, StepResponse](httpClient, baseURL+QueueServicePrevProcedure, opts...),
		stop:           connect.NewClient[TargetRequest, Empty](httpClient, baseURL+QueueServiceStopProcedure, opts...),
		togglePause:    connect.NewClient[Empty, Empty](httpClient, baseURL+QueueServiceTogglePauseProcedure, opts...),
		seek:           connect.NewClient[SeekRequest, Empty](httpClient, baseURL+QueueServiceSeekProcedure, opts...),
		setVolume:      connect.NewClient[SetVolumeRequest, Empty](httpClient, baseURL+QueueServiceSetVolumeProcedure, opts...),
		setRate:        connect.NewClient[SetRateRequest, Empty](httpClient, baseURL+QueueServiceSetRateProcedure, opts...),
		toggleMute:     connect.NewClient[Empty, ToggleMuteResponse](httpClient, baseURL+QueueServiceToggleMuteProcedure, opts...),
		setShuffle:     connect.NewClient[FlagRequest, Empty](httpClient, baseURL+QueueServiceSetShuffleProcedure, opts...),
		setRepeatAll:   connect.NewClient[FlagRequest, Empty](httpClient, baseURL+QueueServiceSetRepeatAllProcedure, opts...),
		toggleRemote:   connect.NewClient[StoryRequest, Empty](httpClient, baseURL+QueueServiceToggleRemoteProcedure, opts...),
		setVisibility:  connect.NewClient[SetVisibilityRequest, Empty](httpClient, baseURL+QueueServiceSetVisibilityProcedure, opts...),
		updateStory:    connect.NewClient[UpdateStoryRequest, StoryResponse](httpClient, baseURL+QueueServiceUpdateStoryProcedure, opts...),
		toggleFavorite: connect.NewClient[StoryRequest, StoryResponse](httpClient, baseURL+QueueServiceToggleFavoriteProcedure, opts...),
		listLibrary:    connect.NewClient[Empty, ListLibraryResponse](httpClient, baseURL+QueueServiceListLibraryProcedure, opts...),
		watch:          connect.NewClient[Empty, WatchEvent](httpClient, baseURL+QueueServiceWatchProcedure, opts...),
	}
}

// GetStatus calls QueueService.GetStatus.
func (c *QueueServiceClient) GetStatus(ctx context.Context) (*GetStatusResponse, error) {
	return call(ctx, c.getStatus, &GetStatusRequest{})
}

// Add calls QueueService.Add.
func (c *QueueServiceClient) Add(ctx context.Context, storyID string) (bool, error) {
	resp, err := call(ctx, c.add, &StoryRequest{StoryID: storyID})
	if err != nil {
		return false, err
	}
	return resp.Added, nil
}

// Remove calls QueueService.Remove.
func (c *QueueServiceClient) Remove(ctx context.Context, storyID string) error {
	_, err := call(ctx, c.remove, &StoryRequest{StoryID: storyID})
	return err
}

// Drag calls QueueService.Drag.
func (c *QueueServiceClient) Drag(ctx context.Context, sourceID, targetID string) ([]string, error) {
	resp, err := call(ctx, c.drag, &DragRequest{SourceID: sourceID, TargetID: targetID})
	if err != nil {
		return nil, err
	}
	return resp.Order, nil
}

// Reorder calls QueueService.Reorder.
func (c *QueueServiceClient) Reorder(ctx context.Context, order []string) ([]string, error) {
	resp, err := call(ctx, c.reorder, &ReorderRequest{Order: order})
	if err != nil {
		return nil, err
	}
	return resp.Order, nil
}

// Clear calls QueueService.Clear.
func (c *QueueServiceClient) Clear(ctx context.Context) error {
	_, err := call(ctx, c.clear, &Empty{})
	return err
}

// PlayAt calls QueueService.PlayAt.
func (c *QueueServiceClient) PlayAt(ctx context.Context, index int) (*StepResponse, error) {
	return call(ctx, c.playAt, &PlayAtRequest{Index: index})
}

// Next calls QueueService.Next.
func (c *QueueServiceClient) Next(ctx context.Context, target string) (*StepResponse, error) {
	return call(ctx, c.next, &TargetRequest{Target: target})
}

// Prev calls QueueService.Prev.
func (c *QueueServiceClient) Prev(ctx context.Context, target string) (*StepResponse, error) {
	return call(ctx, c.prev, &TargetRequest{Target: target})
}

// Stop calls QueueService.Stop.
func (c *QueueServiceClient) Stop(ctx context.Context, target string) error {
	_, err := call(ctx, c.stop, &TargetRequest{Target: target})
	return err
}

// TogglePause calls QueueService.TogglePause.
func (c *QueueServiceClient) TogglePause(ctx context.Context) error {
	_, err := call(ctx, c.togglePause, &Empty{})
	return err
}

// Seek calls QueueService.Seek.
func (c *QueueServiceClient) Seek(ctx context.Context, positionMS int64) error {
	_, err := call(ctx, c.seek, &SeekRequest{PositionMS: positionMS})
	return err
}

// SetVolume calls QueueService.SetVolume.
func (c *QueueServiceClient) SetVolume(ctx context.Context, volume float64) error {
	_, err := call(ctx, c.setVolume, &SetVolumeRequest{Volume: volume})
	return err
}

// SetRate calls QueueService.SetRate.
func (c *QueueServiceClient) SetRate(ctx context.Context, rate float64) error {
	_, err := call(ctx, c.setRate, &SetRateRequest{Rate: rate})
	return err
}

// ToggleMute calls QueueService.ToggleMute.
func (c *QueueServiceClient) ToggleMute(ctx context.Context) (bool, error) {
	resp, err := call(ctx, c.toggleMute, &Empty{})
	if err != nil {
		return false, err
	}
	return resp.Muted, nil
}

// SetShuffle calls QueueService.SetShuffle.
func (c *QueueServiceClient) SetShuffle(ctx context.Context, enabled bool) error {
	_, err := call(ctx, c.setShuffle, &FlagRequest{Enabled: enabled})
	return err
}

// SetRepeatAll calls QueueService.SetRepeatAll.
func (c *QueueServiceClient) SetRepeatAll(ctx context.Context, enabled bool) error {
	_, err := call(ctx, c.setRepeatAll, &FlagRequest{Enabled: enabled})
	return err
}

// ToggleRemote calls QueueService.ToggleRemote.
func (c *QueueServiceClient) ToggleRemote(ctx context.Context, storyID string) error {
	_, err := call(ctx, c.toggleRemote, &StoryRequest{StoryID: storyID})
	return err
}

// SetVisibility calls QueueService.SetVisibility.
func (c *QueueServiceClient) SetVisibility(ctx context.Context, visible bool) error {
	_, err := call(ctx, c.setVisibility, &SetVisibilityRequest{Visible: visible})
	return err
}

// UpdateStory calls QueueService.UpdateStory.
func (c *QueueServiceClient) UpdateStory(ctx context.Context, req *UpdateStoryRequest) (*StoryResponse, error) {
	return call(ctx, c.updateStory, req)
}

// ToggleFavorite calls QueueService.ToggleFavorite.
func (c *QueueServiceClient) ToggleFavorite(ctx context.Context, storyID string) (*StoryResponse, error) {
	return call(ctx, c.toggleFavorite, &StoryRequest{StoryID: storyID})
}

// ListLibrary calls QueueService.ListLibrary.
func (c *QueueServiceClient) ListLibrary(ctx context.Context) (*ListLibraryResponse, error) {
	return call(ctx, c.listLibrary, &Empty{})
}

// Watch calls QueueService.Watch.
func (c *QueueServiceClient) Watch(ctx context.Context) (*connect.ServerStreamForClient[WatchEvent], error) {
	return c.watch.CallServerStream(ctx, connect.NewRequest(&Empty{}))
}

func call[Req, Res any](ctx context.Context, client *connect.Client[Req, Res], msg *Req) (*Res, error) {
	resp, err := client.CallUnary(ctx, connect.NewRequest(msg))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}
