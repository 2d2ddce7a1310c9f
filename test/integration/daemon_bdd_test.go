//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/coder/websocket"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/eliteGoblin/focusd/hourglass/internal/daemon"
	"github.com/eliteGoblin/focusd/hourglass/internal/domain"
	"github.com/eliteGoblin/focusd/hourglass/internal/infra"
	"github.com/eliteGoblin/focusd/hourglass/internal/server"
	"github.com/eliteGoblin/focusd/hourglass/internal/usecase"
	"github.com/eliteGoblin/focusd/hourglass/test/fixtures"
)

const tick = 20 * time.Millisecond

// extension is a websocket client standing in for the browser extension.
type extension struct {
	conn     *websocket.Conn
	messages chan server.CloseTabMessage
}

func connectExtension(ctx context.Context, addr string) *extension {
	conn, _, err := websocket.Dial(ctx, "ws://"+addr+server.DefaultPath, &websocket.DialOptions{
		HTTPHeader: http.Header{"Origin": []string{"chrome-extension://hourglasstabs"}},
	})
	Expect(err).NotTo(HaveOccurred())

	ext := &extension{conn: conn, messages: make(chan server.CloseTabMessage, 16)}
	go func() {
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var msg server.CloseTabMessage
			if json.Unmarshal(data, &msg) != nil {
				continue
			}
			select {
			case ext.messages <- msg:
			default:
			}
		}
	}()
	return ext
}

// notifierLogs returns the entries written by the warning notifier.
func notifierLogs(logs *observer.ObservedLogs) *observer.ObservedLogs {
	return logs.Filter(func(e observer.LoggedEntry) bool {
		return e.LoggerName == "notifier"
	})
}

func (e *extension) send(ctx context.Context, payload string) {
	Expect(e.conn.Write(ctx, websocket.MessageText, []byte(payload))).To(Succeed())
}

var _ = Describe("Daemon", func() {
	var (
		ctx      context.Context
		cancel   context.CancelFunc
		tmpDir   string
		store    *infra.SQLStore
		procs    *fixtures.FakeProcessTable
		registry domain.DaemonRegistry
		srv      *server.Server
		monitor  *daemon.Monitor
		logs     *observer.ObservedLogs
		done     chan error
	)

	BeforeEach(func() {
		var err error
		ctx, cancel = context.WithTimeout(context.Background(), 30*time.Second)

		tmpDir, err = os.MkdirTemp("", "hourglass-integration-*")
		Expect(err).NotTo(HaveOccurred())

		store, err = infra.NewSQLStore(infra.StoreOptions{
			Driver:     infra.DriverSQLite,
			Path:       filepath.Join(tmpDir, infra.LimitsDBName),
			ComputerID: "pc-int",
		})
		Expect(err).NotTo(HaveOccurred())

		var core zapcore.Core
		core, logs = observer.New(zapcore.InfoLevel)
		logger := zap.New(core)

		procs = fixtures.NewFakeProcessTable("explorer")
		registry = infra.NewFileRegistryWithPath(filepath.Join(tmpDir, "daemon.json"), procs)

		websites := usecase.NewWebsiteTracker()
		srv = server.New(server.Options{ListenAddr: "127.0.0.1:0"}, websites, logger)
		Expect(srv.Start(ctx)).To(Succeed())

		tracker := usecase.NewUsageTracker(infra.NewDesktopSampler(procs, logger), tick, logger)
		engine := usecase.NewEngine("pc-int", store, tracker, srv, infra.NewLogNotifier(logger), logger)
		monitor = daemon.NewMonitor(daemon.MonitorConfig{
			TickInterval:      tick,
			HeartbeatInterval: time.Hour,
		}, engine, tracker, websites, registry, domain.DaemonState{
			PID:        procs.GetCurrentPID(),
			ComputerID: "pc-int",
			ListenAddr: srv.Addr(),
		}, logger)
	})

	JustBeforeEach(func() {
		done = make(chan error, 1)
		go func() { done <- monitor.Run(ctx) }()
		Eventually(func() bool {
			alive, _ := registry.IsAlive()
			return alive
		}).WithTimeout(5 * time.Second).Should(BeTrue())
	})

	AfterEach(func() {
		cancel()
		Eventually(done).WithTimeout(5 * time.Second).Should(Receive(BeNil()))

		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		Expect(srv.Shutdown(shutdownCtx)).To(Succeed())

		state, err := registry.Get()
		Expect(err).NotTo(HaveOccurred())
		Expect(state).To(BeNil())

		store.Close()
		os.RemoveAll(tmpDir)
	})

	Describe("application limits", func() {
		BeforeEach(func() {
			Expect(store.SaveLimits(ctx, domain.Limit{
				Key:             "/usr/bin/steam",
				Name:            "Steam",
				WarningDuration: 2 * tick,
				KillDuration:    5 * tick,
			})).To(Succeed())
			procs.Start("steam")
		})

		It("warns and then terminates the running application", func() {
			Eventually(func() bool { return procs.Running("steam") }).
				WithTimeout(5 * time.Second).Should(BeFalse())
			Expect(procs.Killed()).To(ContainElement("steam"))
			Expect(procs.Running("explorer")).To(BeTrue())

			warnings := notifierLogs(logs).FilterField(zap.String("target", "/usr/bin/steam"))
			Expect(warnings.Len()).To(BeNumerically(">=", 1))
		})

		Context("when the limit is ignored", func() {
			BeforeEach(func() {
				Expect(store.UpdateIgnoreStatus(ctx, "/usr/bin/steam", true)).To(Succeed())
			})

			It("leaves the application running", func() {
				Consistently(func() bool { return procs.Running("steam") }).
					WithTimeout(20 * tick).Should(BeTrue())
				Expect(notifierLogs(logs).Len()).To(BeZero())
			})
		})
	})

	Describe("limits added while running", func() {
		It("are enforced after a reload", func() {
			procs.Start("game.exe")
			Consistently(func() []string { return procs.Killed() }).
				WithTimeout(10 * tick).Should(BeEmpty())

			Expect(store.SaveLimits(ctx, domain.Limit{
				Key:          `C:\Games\Game.exe`,
				KillDuration: 3 * tick,
			})).To(Succeed())
			monitor.RequestReload()

			Eventually(func() []string { return procs.Killed() }).
				WithTimeout(5 * time.Second).Should(ContainElement("game"))
		})
	})

	Describe("website limits", func() {
		var first, second *extension

		BeforeEach(func() {
			Expect(store.SaveLimits(ctx, domain.Limit{
				Key:          "https://www.youtube.com",
				KillDuration: 4 * tick,
			})).To(Succeed())
		})

		JustBeforeEach(func() {
			first = connectExtension(ctx, srv.Addr())
			second = connectExtension(ctx, srv.Addr())
			Eventually(srv.ConnectionCount).Should(Equal(2))
		})

		AfterEach(func() {
			first.conn.CloseNow()
			second.conn.CloseNow()
		})

		It("asks every extension to close tabs of the domain", func() {
			second.send(ctx, "{not json")
			first.send(ctx, `{"type":"tabUpdate","urls":["https://www.YouTube.com/watch?v=abc","https://example.com/"]}`)

			expected := server.CloseTabMessage{Type: server.MessageCloseTab, Domain: "youtube.com"}
			Eventually(first.messages).WithTimeout(5 * time.Second).Should(Receive(Equal(expected)))
			Eventually(second.messages).WithTimeout(5 * time.Second).Should(Receive(Equal(expected)))
			Expect(srv.ConnectionCount()).To(Equal(2))
		})

		It("does not close tabs of untracked domains", func() {
			first.send(ctx, `{"type":"tabUpdate","urls":["https://example.com/"]}`)

			Consistently(first.messages).WithTimeout(10 * tick).ShouldNot(Receive())
		})
	})
})
