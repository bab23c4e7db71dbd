package subscribers

import (
	"context"
	"log"
	"sync"
	"time"

	"printwatch/internal/camera"
	"printwatch/internal/events"
	"printwatch/internal/model"
	"printwatch/internal/monitor"
	"printwatch/internal/notify"
	"printwatch/internal/ws"
)

// sideEffectTimeout bounds notification and alert delivery
const sideEffectTimeout = 30 * time.Second

// Bus is the event bus the handlers are registered on
type Bus interface {
	Subscribe(name string, handler events.Handler) func()
	Emit(name string, ev events.Event) error
}

// Spawner starts and cancels monitoring sessions
type Spawner interface {
	Start(job model.Job) (*monitor.Handle, error)
	Cancel(jobID int) bool
	Get(jobID int) (*monitor.Handle, bool)
}

// Syncer applies terminal events to job records
type Syncer interface {
	Sync(ctx context.Context, ev events.Event) (model.Job, error)
}

// Broadcaster pushes events to live clients
type Broadcaster interface {
	BroadcastJobEvent(msg *ws.JobEventMessage)
}

// Alerter sends chat alerts with an optional camera frame
type Alerter interface {
	SendJobAlert(ctx context.Context, job model.Job, reason string, frameJPEG []byte) error
}

// FrameSource provides the latest (annotated) camera frame for alerts
type FrameSource interface {
	Latest() (*camera.Frame, error)
}

// Deps are the collaborators of the handlers. Notifier, Hub, Alerter and
// Frames are optional.
type Deps struct {
	Supervisor Spawner
	Jobs       Syncer
	Notifier   notify.Notifier
	Hub        Broadcaster
	Alerter    Alerter
	Frames     FrameSource
}

// Wiring holds the registered handlers
type Wiring struct {
	bus   Bus
	deps  Deps
	unsub []func()

	mu      sync.Mutex
	closing bool
	wg      sync.WaitGroup
}

var terminalEvents = []string{events.JobFinished, events.JobFailed, events.JobMonitoringFailed}
var verdictEvents = []string{events.JobFinished, events.JobFailed}
var allEvents = []string{events.JobCreated, events.JobFinished, events.JobFailed, events.JobMonitoringFailed}

// Register subscribes the lifecycle handlers in their fixed order:
// spawn monitoring, sync the job record, cancel monitoring, log, notify,
// then live broadcast and chat alerts.
func Register(bus Bus, deps Deps) *Wiring {
	w := &Wiring{bus: bus, deps: deps}

	w.on([]string{events.JobCreated}, w.spawnMonitor)
	w.on(terminalEvents, w.syncRecord)
	w.on(verdictEvents, w.cancelMonitor)
	w.on(terminalEvents, w.logEvent)
	if deps.Notifier != nil {
		w.on(verdictEvents, w.notifyOwner)
	}
	if deps.Hub != nil {
		w.on(allEvents, w.broadcast)
	}
	if deps.Alerter != nil {
		w.on(terminalEvents, w.alert)
	}

	log.Printf("[Events] Registered %d subscriptions", len(w.unsub))
	return w
}

func (w *Wiring) on(names []string, h events.Handler) {
	for _, name := range names {
		w.unsub = append(w.unsub, w.bus.Subscribe(name, h))
	}
}

// Wait blocks until pending notifications and alerts are delivered.
// Deliveries requested after Wait has been called are dropped.
func (w *Wiring) Wait() {
	w.mu.Lock()
	w.closing = true
	w.mu.Unlock()

	w.wg.Wait()
}

// Close unsubscribes every handler
func (w *Wiring) Close() {
	for _, unsub := range w.unsub {
		unsub()
	}
	w.unsub = nil
}

// spawnMonitor starts a monitoring session without blocking the emitter.
// A session that cannot be started is reported as job_monitoring_failed.
func (w *Wiring) spawnMonitor(ev *events.Event) error {
	log.Printf("[Events] Starting monitor for job %d", ev.Job.ID)

	h, err := w.deps.Supervisor.Start(ev.Job)
	if err != nil {
		log.Printf("[Events] Could not start monitor for job %d: %v", ev.Job.ID, err)
		if emitErr := w.bus.Emit(events.JobMonitoringFailed, events.Event{
			Job:    ev.Job,
			Err:    err,
			Reason: "monitor start failed",
		}); emitErr != nil {
			log.Printf("[Events] Warning: %v", emitErr)
		}
		return nil
	}

	ev.SessionID = h.SessionID
	return nil
}

// syncRecord applies the event to the stored job and refreshes the payload
func (w *Wiring) syncRecord(ev *events.Event) error {
	job, err := w.deps.Jobs.Sync(context.Background(), *ev)
	if err != nil {
		log.Printf("[Events] Could not sync job %d for %s: %v", ev.Job.ID, ev.Name, err)
		return nil
	}
	ev.Job = job
	return nil
}

// cancelMonitor ends the job's session when the job was closed from outside it.
// The session that emitted the verdict ends on its own.
func (w *Wiring) cancelMonitor(ev *events.Event) error {
	if h, ok := w.deps.Supervisor.Get(ev.Job.ID); ok && ev.SessionID != "" && h.SessionID == ev.SessionID {
		return nil
	}
	if w.deps.Supervisor.Cancel(ev.Job.ID) {
		log.Printf("[Events] Cancelled monitoring for job %d", ev.Job.ID)
	}
	return nil
}

func (w *Wiring) logEvent(ev *events.Event) error {
	if ev.Err != nil {
		log.Printf("[EVENT] Job %d → %s (%s: %v)", ev.Job.ID, ev.Job.Status, ev.Name, ev.Err)
		return nil
	}
	log.Printf("[EVENT] Job %d → %s", ev.Job.ID, ev.Job.Status)
	return nil
}

// notifyOwner mails the job owner. Delivery runs on its own goroutine.
func (w *Wiring) notifyOwner(ev *events.Event) error {
	to := ev.Job.NotifyAddress()
	if to == "" {
		return nil
	}

	job := ev.Job
	w.async(func(ctx context.Context) {
		if err := w.deps.Notifier.Notify(ctx, to, job); err != nil {
			log.Printf("[Events] Notification for job %d failed: %v", job.ID, err)
		}
	})
	return nil
}

func (w *Wiring) broadcast(ev *events.Event) error {
	w.deps.Hub.BroadcastJobEvent(ws.NewJobEventMessage(ev))
	return nil
}

// alert sends a chat alert with the current camera frame. The frame is
// captured synchronously, before the monitoring session stops the camera.
func (w *Wiring) alert(ev *events.Event) error {
	var frameJPEG []byte
	if w.deps.Frames != nil {
		if frame, err := w.deps.Frames.Latest(); err == nil {
			if data, err := frame.EncodeJPEG(camera.DefaultJPEGQuality); err == nil {
				frameJPEG = data
			}
		}
	}

	job, reason := ev.Job, ev.Reason
	w.async(func(ctx context.Context) {
		if err := w.deps.Alerter.SendJobAlert(ctx, job, reason, frameJPEG); err != nil {
			log.Printf("[Telegram] Alert for job %d failed: %v", job.ID, err)
		}
	})
	return nil
}

func (w *Wiring) async(fn func(ctx context.Context)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closing {
		log.Printf("[Events] Shutting down, dropping delivery")
		return
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
		defer cancel()
		fn(ctx)
	}()
}
