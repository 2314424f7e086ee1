// Package main provides the queue control CLI entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"connectrpc.com/connect"
	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"

	apiconnect "github.com/osa030/storybox/internal/api/connect"
	"github.com/osa030/storybox/internal/domain/story"
)

var (
	app    = kingpin.New("queuectl", "storybox queue control client")
	server = app.Flag("server", "Server address").Default("http://localhost:8080").Envar("STORYBOX_SERVER").String()
	token  = app.Flag("token", "Control token (or set STORYBOX_CONTROL_TOKEN env)").Envar("STORYBOX_CONTROL_TOKEN").String()

	// status / library / watch
	statusCmd  = app.Command("status", "Show the queue and playback state").Default()
	libraryCmd = app.Command("library", "List the story library").Alias("ls")
	watchCmd   = app.Command("watch", "Follow state changes")

	// queue edits
	addCmd       = app.Command("add", "Append a story to the queue")
	addStory     = addCmd.Arg("story", "Story ID or title").Required().String()
	removeCmd    = app.Command("remove", "Remove a story from the queue").Alias("rm")
	removeStory  = removeCmd.Arg("story", "Story ID or title").Required().String()
	dragCmd      = app.Command("drag", "Move a story into another story's position")
	dragSource   = dragCmd.Arg("source", "Story to move").Required().String()
	dragTarget   = dragCmd.Arg("target", "Story whose position it takes").Required().String()
	reorderCmd   = app.Command("reorder", "Replace the queue order")
	reorderOrder = reorderCmd.Arg("ids", "Story IDs in the new order").Required().Strings()
	clearCmd     = app.Command("clear", "Empty the queue")

	// transport
	playCmd    = app.Command("play", "Play the queue entry at index")
	playIndex  = playCmd.Arg("index", "Queue index").Default("0").Int()
	nextCmd    = app.Command("next", "Advance to the next playable story")
	nextRemote = nextCmd.Flag("remote", "Advance on the remote device").Bool()
	prevCmd    = app.Command("prev", "Go back to the previous playable story")
	prevRemote = prevCmd.Flag("remote", "Go back on the remote device").Bool()
	stopCmd    = app.Command("stop", "Stop playback")
	stopRemote = stopCmd.Flag("remote", "Stop the remote device").Bool()
	pauseCmd   = app.Command("pause", "Pause or resume local playback")
	seekCmd    = app.Command("seek", "Seek local playback")
	seekTo     = seekCmd.Arg("position", "Position, e.g. 1m30s").Required().Duration()
	volumeCmd  = app.Command("volume", "Set local volume")
	volumeTo   = volumeCmd.Arg("level", "Volume 0..1").Required().Float64()
	rateCmd    = app.Command("rate", "Set local playback rate")
	rateTo     = rateCmd.Arg("rate", "Rate 0.5..2").Required().Float64()
	muteCmd    = app.Command("mute", "Toggle mute")

	// settings
	shuffleCmd   = app.Command("shuffle", "Turn shuffle on or off")
	shuffleState = shuffleCmd.Arg("state", "on or off").Required().Enum("on", "off")
	repeatCmd    = app.Command("repeat", "Turn repeat-all on or off")
	repeatState  = repeatCmd.Arg("state", "on or off").Required().Enum("on", "off")
	visibleCmd   = app.Command("visible", "Turn remote status polling on or off")
	visibleState = visibleCmd.Arg("state", "on or off").Required().Enum("on", "off")

	// remote
	remoteCmd   = app.Command("remote", "Toggle a story on the remote device")
	remoteStory = remoteCmd.Arg("story", "Story ID or title").Required().String()

	// story edits
	editCmd   = app.Command("edit", "Edit a story")
	editStory = editCmd.Arg("story", "Story ID or title").Required().String()
	editText  = editCmd.Flag("text", "New story text").String()
	editType  = editCmd.Flag("type", "New story type").String()
	editTopic = editCmd.Flag("topic", "New custom topic").String()
	favCmd    = app.Command("favorite", "Toggle a story's favorite flag").Alias("fav")
	favStory  = favCmd.Arg("story", "Story ID or title").Required().String()
)

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	// Parse command
	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	// Create client
	var opts []connect.ClientOption
	if *token != "" {
		opts = append(opts, connect.WithInterceptors(apiconnect.NewControlTokenClientInterceptor(*token)))
	}
	client := apiconnect.NewQueueServiceClient(http.DefaultClient, *server, opts...)

	ctx := context.Background()
	if err := execute(ctx, client, command); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func execute(ctx context.Context, client *apiconnect.QueueServiceClient, command string) error {
	switch command {
	case statusCmd.FullCommand():
		return status(ctx, client)
	case libraryCmd.FullCommand():
		resp, err := client.ListLibrary(ctx)
		if err != nil {
			return err
		}
		renderLibrary(os.Stdout, resp.Stories, time.Now())
		return nil
	case watchCmd.FullCommand():
		return watch(ctx, client)

	case addCmd.FullCommand():
		id, err := lookup(ctx, client, *addStory)
		if err != nil {
			return err
		}
		added, err := client.Add(ctx, id)
		if err != nil {
			return err
		}
		if !added {
			fmt.Printf("%s is already queued\n", id)
			return nil
		}
		fmt.Printf("Added %s\n", id)
		return nil
	case removeCmd.FullCommand():
		id, err := lookup(ctx, client, *removeStory)
		if err != nil {
			return err
		}
		if err := client.Remove(ctx, id); err != nil {
			return err
		}
		fmt.Printf("Removed %s\n", id)
		return nil
	case dragCmd.FullCommand():
		source, err := lookup(ctx, client, *dragSource)
		if err != nil {
			return err
		}
		target, err := lookup(ctx, client, *dragTarget)
		if err != nil {
			return err
		}
		order, err := client.Drag(ctx, source, target)
		if err != nil {
			return err
		}
		fmt.Printf("Order: %v\n", order)
		return nil
	case reorderCmd.FullCommand():
		order, err := client.Reorder(ctx, *reorderOrder)
		if err != nil {
			return err
		}
		fmt.Printf("Order: %v\n", order)
		return nil
	case clearCmd.FullCommand():
		return client.Clear(ctx)

	case playCmd.FullCommand():
		return printStep(client.PlayAt(ctx, *playIndex))
	case nextCmd.FullCommand():
		return printStep(client.Next(ctx, target(*nextRemote)))
	case prevCmd.FullCommand():
		return printStep(client.Prev(ctx, target(*prevRemote)))
	case stopCmd.FullCommand():
		return client.Stop(ctx, target(*stopRemote))
	case pauseCmd.FullCommand():
		return client.TogglePause(ctx)
	case seekCmd.FullCommand():
		return client.Seek(ctx, seekTo.Milliseconds())
	case volumeCmd.FullCommand():
		return client.SetVolume(ctx, *volumeTo)
	case rateCmd.FullCommand():
		return client.SetRate(ctx, *rateTo)
	case muteCmd.FullCommand():
		muted, err := client.ToggleMute(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Muted: %s\n", onOff(muted))
		return nil

	case shuffleCmd.FullCommand():
		return client.SetShuffle(ctx, *shuffleState == "on")
	case repeatCmd.FullCommand():
		return client.SetRepeatAll(ctx, *repeatState == "on")
	case visibleCmd.FullCommand():
		return client.SetVisibility(ctx, *visibleState == "on")

	case remoteCmd.FullCommand():
		id, err := lookup(ctx, client, *remoteStory)
		if err != nil {
			return err
		}
		return client.ToggleRemote(ctx, id)

	case editCmd.FullCommand():
		return edit(ctx, client)
	case favCmd.FullCommand():
		id, err := lookup(ctx, client, *favStory)
		if err != nil {
			return err
		}
		resp, err := client.ToggleFavorite(ctx, id)
		if err != nil {
			return err
		}
		fmt.Printf("%s favorite: %s\n", id, onOff(resp.Story.Favorite))
		return nil

	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

func status(ctx context.Context, client *apiconnect.QueueServiceClient) error {
	st, err := client.GetStatus(ctx)
	if err != nil {
		return err
	}
	renderStatus(os.Stdout, st, time.Now())
	return nil
}

func watch(ctx context.Context, client *apiconnect.QueueServiceClient) error {
	stream, err := client.Watch(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = stream.Close() }()

	for stream.Receive() {
		event := stream.Msg()
		fmt.Println(mutedStyle.Render(fmt.Sprintf("── %s #%d ──", event.Type, event.SequenceNo)))
		renderStatus(os.Stdout, &event.Status, time.Now())
		fmt.Println()
	}
	return stream.Err()
}

func edit(ctx context.Context, client *apiconnect.QueueServiceClient) error {
	id, err := lookup(ctx, client, *editStory)
	if err != nil {
		return err
	}

	var patch story.Patch
	if *editText != "" {
		patch.Text = editText
	}
	if *editType != "" {
		patch.StoryType = editType
	}
	if *editTopic != "" {
		patch.CustomTopic = editTopic
	}
	if patch == (story.Patch{}) {
		return fmt.Errorf("nothing to edit: pass --text, --type or --topic")
	}

	resp, err := client.UpdateStory(ctx, &apiconnect.UpdateStoryRequest{StoryID: id, Patch: patch})
	if err != nil {
		return err
	}
	fmt.Printf("Updated %s: %s\n", resp.Story.ID, resp.Story.Title())
	return nil
}

// lookup resolves a story argument against the library.
func lookup(ctx context.Context, client *apiconnect.QueueServiceClient, arg string) (string, error) {
	resp, err := client.ListLibrary(ctx)
	if err != nil {
		return "", err
	}
	return resolveStory(resp.Stories, arg)
}

func printStep(step *apiconnect.StepResponse, err error) error {
	if err != nil {
		return err
	}
	if step.StoryID == "" {
		fmt.Println(step.Decision)
		return nil
	}
	fmt.Printf("%s %s (index %d)\n", step.Decision, step.StoryID, step.Index)
	return nil
}

func target(remote bool) string {
	if remote {
		return "remote"
	}
	return "local"
}
