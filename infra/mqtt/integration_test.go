//go:build !no_containers

package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/kilianp07/yardfleet/core/model"
	"github.com/kilianp07/yardfleet/core/risk"
)

const mosquittoConf = `listener 1883
allow_anonymous true
persistence false
log_dest stdout
`

func waitForMQTTReady(broker string, timeout time.Duration) error {
	opts := paho.NewClientOptions().AddBroker(broker).SetClientID("probe")
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		cli := paho.NewClient(opts)
		token := cli.Connect()
		token.Wait()
		if token.Error() == nil {
			cli.Disconnect(100)
			return nil
		}
		lastErr = token.Error()
		time.Sleep(100 * time.Millisecond)
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("timeout waiting for broker")
	}
	return lastErr
}

func startMosquitto(ctx context.Context, t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not installed")
	}
	path := filepath.Join(t.TempDir(), "mosquitto.conf")
	require.NoError(t, os.WriteFile(path, []byte(mosquittoConf), 0o644))

	req := tc.ContainerRequest{
		Image:        "eclipse-mosquitto:2.0",
		ExposedPorts: []string{"1883/tcp"},
		WaitingFor:   wait.ForListeningPort("1883/tcp"),
		Files: []tc.ContainerFile{{
			HostFilePath:      path,
			ContainerFilePath: "/mosquitto/config/mosquitto.conf",
			FileMode:          0o644,
		}},
	}
	cont, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		t.Skipf("container start: %v", err)
	}
	t.Cleanup(func() { _ = cont.Terminate(context.Background()) })

	host, err := cont.Host(ctx)
	require.NoError(t, err)
	port, err := cont.MappedPort(ctx, "1883")
	require.NoError(t, err)
	broker := fmt.Sprintf("tcp://%s:%s", host, port.Port())
	if err := waitForMQTTReady(broker, 5*time.Second); err != nil {
		t.Skipf("mosquitto not ready at %s: %v", broker, err)
	}
	return broker
}

func TestAlertPublisherWithBroker(t *testing.T) {
	ctx := context.Background()
	broker := startMosquitto(ctx, t)

	received := make(chan paho.Message, 4)
	sub := paho.NewClient(paho.NewClientOptions().AddBroker(broker).SetClientID("it-sub"))
	require.NoError(t, waitToken(sub.Connect()))
	defer sub.Disconnect(100)
	require.NoError(t, waitToken(sub.Subscribe("it/#", 1, func(_ paho.Client, m paho.Message) {
		received <- m
	})))

	pub, err := NewAlertPublisher(Config{Broker: broker, ClientID: "it-pub", TopicPrefix: "it", QoS: 1})
	require.NoError(t, err)
	defer pub.Disconnect()

	require.NoError(t, pub.PublishAlert(ctx, Alert{Plate: "ABC-1234", Yard: "North", Probability: 0.9, Urgency: risk.UrgencyHigh}))
	require.NoError(t, pub.PublishOccupancy(ctx, model.Occupancy{Yard: "North", Total: 2, Occupied: 1, Available: 1, Rate: 0.5}, false))

	got := map[string][]byte{}
	timeout := time.After(5 * time.Second)
	for len(got) < 2 {
		select {
		case m := <-received:
			got[m.Topic()] = m.Payload()
		case <-timeout:
			t.Fatalf("received %d of 2 messages", len(got))
		}
	}

	var a Alert
	require.NoError(t, json.Unmarshal(got["it/vehicles/ABC-1234/maintenance"], &a))
	assert.Equal(t, risk.UrgencyHigh, a.Urgency)
	var o model.Occupancy
	require.NoError(t, json.Unmarshal(got["it/yards/North/occupancy"], &o))
	assert.Equal(t, 1, o.Occupied)
}

func waitToken(tok paho.Token) error {
	tok.Wait()
	return tok.Error()
}
