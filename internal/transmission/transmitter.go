package transmission

// Publisher is the subset of the MQTT client the transmitter needs.
type Publisher interface {
	Publish(topic string, payload []byte, retained bool) error
	IsConnected() bool
}
