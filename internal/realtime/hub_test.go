package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinic-queue/internal/auth"
	"github.com/wolfman30/clinic-queue/internal/events"
	"github.com/wolfman30/clinic-queue/internal/tenancy"
	"github.com/wolfman30/clinic-queue/pkg/logging"
)

const testSecret = "hub-secret"

func newTestHub(t *testing.T, opts Options) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(auth.NewVerifier(testSecret), logging.New("error"), opts)
	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func dialAs(t *testing.T, srv *httptest.Server, actor tenancy.Actor) *websocket.Conn {
	t.Helper()
	token, err := auth.NewVerifier(testSecret).Issue(actor, time.Minute)
	require.NoError(t, err)
	return dial(t, srv, "?token="+token)
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func expectClose(t *testing.T, conn *websocket.Conn, code int, text string) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	var closeErr *websocket.CloseError
	require.True(t, errors.As(err, &closeErr), "expected close error, got %v", err)
	assert.Equal(t, code, closeErr.Code)
	assert.Equal(t, text, closeErr.Text)
}

func waitForCount(t *testing.T, hub *Hub, tenant uuid.UUID, doctors, receptionists int) {
	t.Helper()
	require.Eventually(t, func() bool {
		d, r := hub.Registry().Count(tenant)
		return d == doctors && r == receptionists
	}, 2*time.Second, 5*time.Millisecond)
}

func TestHubRejectsMissingToken(t *testing.T) {
	_, srv := newTestHub(t, Options{})
	conn := dial(t, srv, "")
	expectClose(t, conn, CloseTokenMissing, "Token missing")
}

func TestHubRejectsInvalidToken(t *testing.T) {
	_, srv := newTestHub(t, Options{})
	forged, err := auth.NewVerifier("other").Issue(tenancy.Doctor(uuid.New(), uuid.New()), time.Minute)
	require.NoError(t, err)

	conn := dial(t, srv, "?token="+forged)
	expectClose(t, conn, CloseTokenInvalid, "Invalid token")
}

func TestHubPublishFansOutWithinTenant(t *testing.T) {
	hub, srv := newTestHub(t, Options{})
	tenant := uuid.New()
	other := uuid.New()

	doctor := dialAs(t, srv, tenancy.Doctor(tenant, uuid.New()))
	frontDesk := dialAs(t, srv, tenancy.Receptionist(tenant, uuid.New()))
	outsider := dialAs(t, srv, tenancy.Receptionist(other, uuid.New()))
	waitForCount(t, hub, tenant, 1, 1)
	waitForCount(t, hub, other, 0, 1)

	for _, conn := range []*websocket.Conn{doctor, frontDesk, outsider} {
		assert.Equal(t, "info", readJSON(t, conn)["type"])
	}

	n := events.AppointmentCancelled(tenant, events.AppointmentSnapshot{ID: "a-1", Number: 3}, time.Now())
	assert.Equal(t, 2, hub.Publish(n))

	for _, conn := range []*websocket.Conn{doctor, frontDesk} {
		msg := readJSON(t, conn)
		assert.Equal(t, string(events.TypeCancelAppointment), msg["event"])
	}

	require.NoError(t, outsider.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, _, err := outsider.ReadMessage()
	assert.Error(t, err, "other tenant must not receive the notification")
}

func TestHubNewDoctorConnectionReplacesPrevious(t *testing.T) {
	hub, srv := newTestHub(t, Options{})
	tenant := uuid.New()
	doctorID := uuid.New()

	first := dialAs(t, srv, tenancy.Doctor(tenant, doctorID))
	waitForCount(t, hub, tenant, 1, 0)
	assert.Equal(t, "info", readJSON(t, first)["type"])

	second := dialAs(t, srv, tenancy.Doctor(tenant, doctorID))
	expectClose(t, first, websocket.CloseNormalClosure, "Replaced by newer connection")
	assert.Equal(t, "info", readJSON(t, second)["type"])
	waitForCount(t, hub, tenant, 1, 0)

	assert.Equal(t, 1, hub.Publish(events.AppointmentBooked(tenant, events.AppointmentSnapshot{ID: "a-2"}, time.Now())))
	assert.Equal(t, string(events.TypeNewAppointment), readJSON(t, second)["event"])
}

func TestHubDoctorsOfOneClinicCoexist(t *testing.T) {
	hub, srv := newTestHub(t, Options{})
	tenant := uuid.New()

	first := dialAs(t, srv, tenancy.Doctor(tenant, uuid.New()))
	waitForCount(t, hub, tenant, 1, 0)
	second := dialAs(t, srv, tenancy.Doctor(tenant, uuid.New()))
	waitForCount(t, hub, tenant, 2, 0)

	for _, conn := range []*websocket.Conn{first, second} {
		assert.Equal(t, "info", readJSON(t, conn)["type"])
	}
	assert.Equal(t, 2, hub.Publish(events.AppointmentBooked(tenant, events.AppointmentSnapshot{ID: "a-4"}, time.Now())))
	for _, conn := range []*websocket.Conn{first, second} {
		assert.Equal(t, string(events.TypeNewAppointment), readJSON(t, conn)["event"])
	}
}

func TestHubAllowsSeveralReceptionistTerminals(t *testing.T) {
	hub, srv := newTestHub(t, Options{})
	tenant := uuid.New()
	staff := uuid.New()

	dialAs(t, srv, tenancy.Receptionist(tenant, staff))
	dialAs(t, srv, tenancy.Receptionist(tenant, staff))
	waitForCount(t, hub, tenant, 0, 2)
}

func TestHubClosedConnectionIsUnregistered(t *testing.T) {
	hub, srv := newTestHub(t, Options{})
	tenant := uuid.New()

	conn := dialAs(t, srv, tenancy.Receptionist(tenant, uuid.New()))
	waitForCount(t, hub, tenant, 0, 1)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")))
	waitForCount(t, hub, tenant, 0, 0)
	assert.Equal(t, 0, hub.Publish(events.AppointmentBooked(tenant, events.AppointmentSnapshot{}, time.Now())))
}

func TestHubHeartbeatReapsSilentConnections(t *testing.T) {
	hub, srv := newTestHub(t, Options{HeartbeatInterval: 20 * time.Millisecond})
	tenant := uuid.New()

	// The doctor terminal keeps reading, so its client answers pings.
	doctor := dialAs(t, srv, tenancy.Doctor(tenant, uuid.New()))
	received := make(chan map[string]any, 8)
	go func() {
		for {
			_, data, err := doctor.ReadMessage()
			if err != nil {
				close(received)
				return
			}
			var msg map[string]any
			if json.Unmarshal(data, &msg) == nil {
				received <- msg
			}
		}
	}()

	// The receptionist terminal never reads, so it never pongs.
	dialAs(t, srv, tenancy.Receptionist(tenant, uuid.New()))
	waitForCount(t, hub, tenant, 1, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	waitForCount(t, hub, tenant, 1, 0)

	// Still registered after several more cycles.
	time.Sleep(100 * time.Millisecond)
	d, r := hub.Registry().Count(tenant)
	assert.Equal(t, 1, d)
	assert.Equal(t, 0, r)

	assert.Equal(t, 1, hub.Publish(events.AppointmentBooked(tenant, events.AppointmentSnapshot{ID: "a-3"}, time.Now())))
	deadline := time.After(2 * time.Second)
	for {
		select {
		case msg, ok := <-received:
			require.True(t, ok, "doctor connection closed unexpectedly")
			if msg["event"] == string(events.TypeNewAppointment) {
				return
			}
		case <-deadline:
			t.Fatal("doctor never received the notification")
		}
	}
}

func TestHubPublishDropsWhenBufferFull(t *testing.T) {
	hub, srv := newTestHub(t, Options{SendBuffer: 1})
	tenant := uuid.New()

	dialAs(t, srv, tenancy.Receptionist(tenant, uuid.New()))
	waitForCount(t, hub, tenant, 0, 1)

	// Publishing many messages to a terminal that is not reading must never
	// block; at least one eventually lands on a full buffer.
	done := make(chan int)
	go func() {
		delivered := 0
		for i := 0; i < 5000; i++ {
			delivered += hub.Publish(events.AppointmentBooked(tenant, events.AppointmentSnapshot{ID: "x"}, time.Now()))
		}
		done <- delivered
	}()
	select {
	case delivered := <-done:
		assert.Less(t, delivered, 5000)
	case <-time.After(5 * time.Second):
		t.Fatal("publish blocked")
	}
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://clinic.example.com/"})
	req := httptest.NewRequest("GET", "/ws", nil)
	assert.True(t, check(req))

	req.Header.Set("Origin", "https://clinic.example.com")
	assert.True(t, check(req))

	req.Header.Set("Origin", "https://evil.example.com")
	assert.False(t, check(req))

	assert.True(t, originChecker(nil)(req))
}

func TestHubSurvivesConcurrentChurn(t *testing.T) {
	hub, srv := newTestHub(t, Options{HeartbeatInterval: time.Hour, SendBuffer: 4})
	tenant := uuid.New()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	verifier := auth.NewVerifier(testSecret)
	sharedDoctor := uuid.New()

	stop := make(chan struct{})
	var background sync.WaitGroup
	background.Add(2)
	go func() {
		defer background.Done()
		for {
			select {
			case <-stop:
				return
			default:
				hub.Publish(events.AppointmentBooked(tenant, events.AppointmentSnapshot{ID: "churn"}, time.Now()))
			}
		}
	}()
	go func() {
		defer background.Done()
		for {
			select {
			case <-stop:
				return
			default:
				hub.sweep()
				time.Sleep(time.Millisecond)
			}
		}
	}()

	var terminals sync.WaitGroup
	for i := 0; i < 16; i++ {
		terminals.Add(1)
		go func(i int) {
			defer terminals.Done()
			actor := tenancy.Receptionist(tenant, uuid.New())
			switch i % 3 {
			case 1:
				actor = tenancy.Doctor(tenant, uuid.New())
			case 2:
				actor = tenancy.Doctor(tenant, sharedDoctor)
			}
			for j := 0; j < 5; j++ {
				token, err := verifier.Issue(actor, time.Minute)
				if !assert.NoError(t, err) {
					return
				}
				conn, _, err := websocket.DefaultDialer.Dial(url+"?token="+token, nil)
				if !assert.NoError(t, err) {
					return
				}
				_ = conn.SetReadDeadline(time.Now().Add(10 * time.Millisecond))
				_, _, _ = conn.ReadMessage()
				_ = conn.Close()
			}
		}(i)
	}
	terminals.Wait()
	close(stop)
	background.Wait()

	waitForCount(t, hub, tenant, 0, 0)
	assert.Equal(t, 0, hub.Publish(events.AppointmentBooked(tenant, events.AppointmentSnapshot{}, time.Now())))
}
