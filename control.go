package streampublish

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
)

// StreamController is the subset of FramePublisher the control loop drives.
type StreamController interface {
	StartStream() error
	StopStream() error
	StartRTMPStream() error
	StopRTMPStream() error
	StartLocalStream() error
	StopLocalStream() error
	DebugInfo() string
}

// RunControlLoop reads line-oriented commands from r and applies them to
// ctrl until "quit" or EOF.
//
// Commands:
//
//	start_stream        attach both branches
//	stop_stream         detach both branches
//	start_rtmp_stream   attach the network branch
//	stop_rtmp_stream    detach the network branch
//	start_local_stream  attach the display branch
//	stop_local_stream   detach the display branch
//	debug               print the graph debug dump to w
//	quit                exit the loop
//
// Unrecognized input reports an error and the loop continues. Command
// failures are logged, never fatal: the operator decides what to do next.
func RunControlLoop(r io.Reader, w io.Writer, ctrl StreamController) error {
	scanner := bufio.NewScanner(r)

	for scanner.Scan() {
		command := scanner.Text()

		var err error
		switch command {
		case "start_stream":
			err = ctrl.StartStream()
		case "stop_stream":
			err = ctrl.StopStream()
		case "start_rtmp_stream":
			err = ctrl.StartRTMPStream()
		case "stop_rtmp_stream":
			err = ctrl.StopRTMPStream()
		case "start_local_stream":
			err = ctrl.StartLocalStream()
		case "stop_local_stream":
			err = ctrl.StopLocalStream()
		case "debug":
			fmt.Fprintln(w, ctrl.DebugInfo())
		case "quit":
			return nil
		case "":
			continue
		default:
			fmt.Fprintf(w, "invalid command: %q\n", command)
			continue
		}

		if err != nil {
			slog.Error("stream-publish: control command failed",
				"command", command,
				"error", err,
			)
			fmt.Fprintf(w, "command %s failed: %v\n", command, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("stream-publish: control input failed: %w", err)
	}
	return nil
}
