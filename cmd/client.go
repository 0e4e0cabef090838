package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/psds-microservice/attention-service/internal/application"
	"github.com/psds-microservice/attention-service/internal/attention"
	"github.com/psds-microservice/attention-service/internal/monitor"
	"github.com/psds-microservice/attention-service/internal/retryqueue"
	"github.com/psds-microservice/attention-service/internal/syncclient"
)

type clientFlags struct {
	server    string
	classroom string
	userID    string
	name      string
	trace     string
	queueFile string
	logLevel  string
}

var clientOpts clientFlags

var clientCmd = &cobra.Command{
	Use:   "client",
	Short: "Replay a YAML geometry trace as a student against a running server",
	RunE:  runClient,
}

func init() {
	f := clientCmd.Flags()
	f.StringVar(&clientOpts.server, "server", "http://localhost:5000", "server base URL")
	f.StringVar(&clientOpts.classroom, "classroom", "", "classroom code to join")
	f.StringVar(&clientOpts.userID, "user", "", "student user id")
	f.StringVar(&clientOpts.name, "name", "", "display name (defaults to the user id)")
	f.StringVar(&clientOpts.trace, "trace", "", "geometry trace file (YAML)")
	f.StringVar(&clientOpts.queueFile, "queue-file", "", "retry queue file (default data/retry-<user>.msgpack)")
	f.StringVar(&clientOpts.logLevel, "log-level", "warn", "log level")
	_ = clientCmd.MarkFlagRequired("classroom")
	_ = clientCmd.MarkFlagRequired("user")
	_ = clientCmd.MarkFlagRequired("trace")
	rootCmd.AddCommand(clientCmd)
}

// endpoints derives the websocket and REST URLs from the server base URL.
func endpoints(server string) (wsURL, apiURL string, err error) {
	u, err := url.Parse(strings.TrimRight(server, "/"))
	if err != nil {
		return "", "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", "", fmt.Errorf("server: unsupported scheme %q", u.Scheme)
	}
	ws := *u
	ws.Path += "/ws"
	return ws.String(), strings.TrimRight(server, "/") + "/api", nil
}

func stateColor(s attention.State) func(a ...interface{}) string {
	switch s {
	case attention.StateAttentive:
		return color.New(color.FgGreen, color.Bold).SprintFunc()
	case attention.StateDistracted:
		return color.New(color.FgRed, color.Bold).SprintFunc()
	default:
		return color.New(color.FgYellow).SprintFunc()
	}
}

func runClient(cmd *cobra.Command, args []string) error {
	o := clientOpts
	logger, err := application.NewLogger("development", o.logLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	trace, err := monitor.LoadTrace(o.trace)
	if err != nil {
		return err
	}
	wsURL, apiURL, err := endpoints(o.server)
	if err != nil {
		return err
	}
	if o.name == "" {
		o.name = o.userID
	}
	if o.queueFile == "" {
		o.queueFile = filepath.Join("data", "retry-"+o.userID+".msgpack")
	}
	queue, err := retryqueue.OpenFile(o.queueFile, retryqueue.DefaultCapacity)
	if err != nil {
		return fmt.Errorf("retry queue: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := syncclient.New(syncclient.Config{
		UserID:        o.userID,
		DisplayName:   o.name,
		ClassroomCode: o.classroom,
	}, syncclient.WSDialer(wsURL), syncclient.NewHTTPRecorder(apiURL, nil), queue,
		syncclient.WithLogger(logger))

	dim := color.New(color.Faint).SprintFunc()
	mon := monitor.New(attention.NewEstimator(), client,
		monitor.WithLogger(logger),
		monitor.WithStateListener(func(s monitor.Status) {
			fmt.Printf("%s %s score=%.2f posture=%.2f distracted=%ds\n",
				dim(s.At.Format("15:04:05.000")),
				stateColor(s.State)(strings.ToUpper(string(s.State))),
				s.Reading.AttentionScore, s.Reading.Posture, s.Reading.TimeDistractedSeconds)
		}))

	fmt.Printf("%s %s as %s (session %s), trace %s\n",
		color.CyanString("joining"), color.New(color.Bold).Sprint(o.classroom), o.name,
		client.SessionID(), trace.Duration())

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	client.Start(runCtx)
	monDone := make(chan struct{})
	go func() {
		defer close(monDone)
		_ = mon.Run(runCtx)
	}()
	go func() {
		select {
		case <-client.Ended():
			fmt.Println(color.MagentaString("classroom ended by the teacher"))
			cancel()
		case <-runCtx.Done():
		}
	}()

	playErr := trace.Play(runCtx, mon.Observe)
	// let the last step's reading reach the state tick before leaving
	if playErr == nil {
		time.Sleep(attention.StateInterval)
	}
	cancel()
	<-monDone
	client.Stop()

	st := mon.Status()
	fmt.Printf("%s final state %s, %d sample(s) pending retry\n",
		color.CyanString("done:"), stateColor(st.State)(string(st.State)), client.Pending())
	if playErr != nil && !errors.Is(playErr, context.Canceled) {
		logger.Warn("trace stopped", zap.Error(playErr))
	}
	return nil
}
