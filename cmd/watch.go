package cmd

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"ariaview/types"
)

var (
	watchServer string

	watchCmd = &cobra.Command{
		Use:   "watch <gid>",
		Short: "Follow one download in the terminal",
		Long: `Follow one download through a running ariaview server and draw its
progress until it completes, fails or is removed.`,
		Args: cobra.ExactArgs(1),
		RunE: watchMain,
	}
)

func init() {
	watchCmd.Flags().StringVarP(&watchServer, "server", "s", "http://localhost:8080", "Address of the ariaview server")
}

func watchMain(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return WatchJob(ctx, watchServer, args[0], os.Stderr)
}

// ErrJobGone is returned when the watched job leaves the snapshot
var ErrJobGone = errors.New("download is no longer known to aria2")

// WatchJob renders the progress of gid to out until the job finishes.
// It returns nil only when the download completed.
func WatchJob(ctx context.Context, server, gid string, out io.Writer) error {
	wsURL, err := jobSocketURL(server, gid)
	if err != nil {
		return err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return errors.Wrapf(err, "failed to connect to %s", server)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	var bar *progressbar.ProgressBar
	seen := false
	for {
		var msg types.SnapshotMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.Wrap(err, "lost connection to server")
		}

		if len(msg.Jobs) == 0 {
			if seen {
				return ErrJobGone
			}
			return errors.Errorf("no download with gid %s", gid)
		}
		job := msg.Jobs[0]
		seen = true

		if bar == nil {
			bar = newJobBar(job, out)
		}
		renderJob(bar, job)
		log.Debugf("Snapshot %d: %s %s/%s", msg.Version, job.Status, job.CompletedLength, job.TotalLength)

		if job.Status.Finished() {
			return finishJob(bar, job)
		}
	}
}

func jobSocketURL(server, gid string) (string, error) {
	u, err := url.Parse(server)
	if err != nil {
		return "", errors.Wrapf(err, "invalid server address %q", server)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", errors.Errorf("unsupported server scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/api/ws/downloads/" + url.PathEscape(gid)
	return u.String(), nil
}

func newJobBar(job types.JobRecord, out io.Writer) *progressbar.ProgressBar {
	total := int64(-1)
	if job.TotalLength > 0 {
		total = int64(job.TotalLength)
	}
	return progressbar.NewOptions64(total,
		progressbar.OptionSetWriter(out),
		progressbar.OptionSetDescription(job.Name()),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(30),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
	)
}

func renderJob(bar *progressbar.ProgressBar, job types.JobRecord) {
	// the total is unknown until aria2 has seen the first response
	if job.TotalLength > 0 && bar.GetMax64() != int64(job.TotalLength) {
		bar.ChangeMax64(int64(job.TotalLength))
	}
	bar.Describe(fmt.Sprintf("%s [%s]", job.Name(), job.Status))
	_ = bar.Set64(int64(job.CompletedLength))
}

func finishJob(bar *progressbar.ProgressBar, job types.JobRecord) error {
	switch job.Status {
	case types.JobStatusComplete:
		_ = bar.Finish()
		return nil
	case types.JobStatusError:
		_ = bar.Exit()
		if job.ErrorMessage != "" {
			return errors.Errorf("download failed (code %s): %s", job.ErrorCode, job.ErrorMessage)
		}
		return errors.New("download failed")
	default:
		_ = bar.Exit()
		return errors.Errorf("download was %s", job.Status)
	}
}
