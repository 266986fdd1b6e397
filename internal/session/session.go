package session

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nerrad567/astarte-device-core/internal/codec"
	"github.com/nerrad567/astarte-device-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/astarte-device-core/internal/propcache"
)

const tracerName = "github.com/nerrad567/astarte-device-core/internal/session"

// maxQoS is the highest MQTT delivery guarantee.
const maxQoS = 2

// Ownership says which side writes an interface.
type Ownership string

// Interface ownerships.
const (
	OwnershipDevice Ownership = "device"
	OwnershipServer Ownership = "server"
)

// Interface is one entry of the device introspection.
type Interface struct {
	Name      string
	Major     int32
	Minor     int32
	Ownership Ownership
}

// Publisher sends MQTT messages. *mqtt.Client satisfies it.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Logger is the subset of logging the session needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
}

// Options configures a Session.
type Options struct {
	Realm      string
	DeviceID   string
	Interfaces []Interface

	// QoS is used for every publish. Astarte expects 2
	// for properties and control messages.
	QoS byte

	// Logger may be nil.
	Logger Logger
}

// Session synchronises cached properties with the broker.
//
// Thread Safety:
//   - Safe for concurrent use. HandleMessage may run on broker callback
//     goroutines while SetProperty runs elsewhere.
type Session struct {
	topics     mqtt.Topics
	pub        Publisher
	store      propcache.Store
	codec      codec.Codec
	interfaces map[string]Interface
	qos        byte
	logger     Logger
	tracer     trace.Tracer
}

// New creates a Session.
//
// Returns:
//   - *Session: ready for OnConnect
//   - error: ErrInvalidOptions for a missing realm or device ID, a QoS above
//     2, an unnamed or duplicate interface, or an unknown ownership
func New(pub Publisher, store propcache.Store, c codec.Codec, opts Options) (*Session, error) {
	if opts.Realm == "" || opts.DeviceID == "" {
		return nil, fmt.Errorf("%w: realm and device ID are required", ErrInvalidOptions)
	}
	if opts.QoS > maxQoS {
		return nil, fmt.Errorf("%w: qos %d", ErrInvalidOptions, opts.QoS)
	}

	interfaces := make(map[string]Interface, len(opts.Interfaces))
	for _, iface := range opts.Interfaces {
		if iface.Name == "" {
			return nil, fmt.Errorf("%w: interface without a name", ErrInvalidOptions)
		}
		if _, dup := interfaces[iface.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate interface %q", ErrInvalidOptions, iface.Name)
		}
		if iface.Ownership != OwnershipDevice && iface.Ownership != OwnershipServer {
			return nil, fmt.Errorf("%w: interface %q has ownership %q", ErrInvalidOptions, iface.Name, iface.Ownership)
		}
		interfaces[iface.Name] = iface
	}

	return &Session{
		topics:     mqtt.NewTopics(opts.Realm, opts.DeviceID),
		pub:        pub,
		store:      store,
		codec:      c,
		interfaces: interfaces,
		qos:        opts.QoS,
		logger:     opts.Logger,
		tracer:     otel.Tracer(tracerName),
	}, nil
}

// Introspection returns the "name:major:minor;..." string announced on connect,
// sorted by interface name.
func (s *Session) Introspection() string {
	names := s.interfaceNames()
	parts := make([]string, 0, len(names))
	for _, name := range names {
		iface := s.interfaces[name]
		parts = append(parts, name+":"+strconv.Itoa(int(iface.Major))+":"+strconv.Itoa(int(iface.Minor)))
	}
	return strings.Join(parts, ";")
}

// SubscriptionTopics returns the topics the device must subscribe to: the
// consumer property list plus a wildcard per server-owned interface.
func (s *Session) SubscriptionTopics() []string {
	topics := []string{s.topics.ConsumerProperties()}
	for _, name := range s.interfaceNames() {
		if s.interfaces[name].Ownership == OwnershipServer {
			topics = append(topics, s.topics.InterfaceWildcard(name))
		}
	}
	return topics
}

// SetProperty publishes a device-owned property and records it in the cache.
// Setting codec.Unset() is the same as UnsetProperty.
//
// The cache is only written once the broker accepted the message, so a
// failed publish leaves the previous value in place.
func (s *Session) SetProperty(ctx context.Context, iface, path string, v codec.Scalar) error {
	if v.IsUnset() {
		return s.UnsetProperty(ctx, iface, path)
	}

	def, err := s.deviceOwned(iface, path)
	if err != nil {
		return err
	}

	payload, err := s.codec.EncodeIndividual(v)
	if err != nil {
		return fmt.Errorf("encoding %s%s: %w", iface, path, err)
	}

	return s.publishAndStore(ctx, def, path, payload)
}

// UnsetProperty publishes an empty payload and stores the unset marker.
func (s *Session) UnsetProperty(ctx context.Context, iface, path string) error {
	def, err := s.deviceOwned(iface, path)
	if err != nil {
		return err
	}
	return s.publishAndStore(ctx, def, path, []byte{})
}

// Property returns the cached value of (iface, path) under the declared
// major version. ok is false when nothing valid is cached.
func (s *Session) Property(ctx context.Context, iface, path string) (codec.Scalar, bool, error) {
	def, err := s.lookup(iface, path)
	if err != nil {
		return codec.Scalar{}, false, err
	}
	return s.store.LoadProperty(ctx, iface, path, def.Major)
}

// OnConnect announces the device after a (re)connection.
//
// The introspection is always published. When the broker did not keep a
// session, the device also asks for its cache to be emptied, lists its
// device-owned properties, and publishes each of their values again.
func (s *Session) OnConnect(ctx context.Context, sessionPresent bool) (err error) {
	ctx, span := s.tracer.Start(ctx, "session.OnConnect",
		trace.WithAttributes(attribute.Bool("astarte.session_present", sessionPresent)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if err := s.publish(s.topics.Base(), []byte(s.Introspection())); err != nil {
		return fmt.Errorf("publishing introspection: %w", err)
	}

	if sessionPresent {
		return nil
	}

	if err := s.publish(s.topics.EmptyCache(), []byte("1")); err != nil {
		return fmt.Errorf("publishing empty cache: %w", err)
	}

	props, err := s.deviceProperties(ctx)
	if err != nil {
		return err
	}

	paths := make([]string, 0, len(props))
	for _, p := range props {
		paths = append(paths, p.Interface+p.Path)
	}
	list, err := encodePropertyList(paths)
	if err != nil {
		return err
	}
	if err := s.publish(s.topics.ProducerProperties(), list); err != nil {
		return fmt.Errorf("publishing producer properties: %w", err)
	}

	for _, p := range props {
		if err := s.publish(s.topics.Interface(p.Interface, p.Path), p.Value); err != nil {
			return fmt.Errorf("republishing %s%s: %w", p.Interface, p.Path, err)
		}
	}

	span.SetAttributes(attribute.Int("astarte.properties_sent", len(props)))
	if s.logger != nil {
		s.logger.Info("properties synchronised", "properties", len(props))
	}
	return nil
}

// HandleMessage processes a message received on one of SubscriptionTopics.
// It has the shape of an mqtt.MessageHandler once ctx is bound.
//
// Server-owned property values are stored under the declared major version;
// an empty payload stores the unset marker. A consumer property list
// deletes every cached server-owned property it does not name.
func (s *Session) HandleMessage(ctx context.Context, topic string, payload []byte) (err error) {
	ctx, span := s.tracer.Start(ctx, "session.HandleMessage",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(attribute.String("messaging.destination.name", topic)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if topic == s.topics.ConsumerProperties() {
		return s.purge(ctx, payload)
	}

	iface, path, ok := s.topics.ParseInterface(topic)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnexpectedTopic, topic)
	}

	def, err := s.lookup(iface, path)
	if err != nil {
		return err
	}
	if def.Ownership != OwnershipServer {
		return fmt.Errorf("%w: %s is device-owned", ErrOwnership, iface)
	}

	if len(payload) > 0 {
		decoded, err := s.codec.Decode(payload)
		if err != nil {
			return fmt.Errorf("decoding %s%s: %w", iface, path, err)
		}
		if _, ok := decoded.(codec.Object); ok {
			return fmt.Errorf("decoding %s%s: %w", iface, path, propcache.ErrAggregateProperty)
		}
	}

	if err := s.store.StoreProperty(ctx, iface, path, payload, def.Major); err != nil {
		return fmt.Errorf("storing %s%s: %w", iface, path, err)
	}

	s.debug("server property received", "interface", iface, "path", path, "unset", len(payload) == 0)
	return nil
}

// MessageHandler binds ctx to HandleMessage for use with mqtt.Client.Subscribe.
func (s *Session) MessageHandler(ctx context.Context) mqtt.MessageHandler {
	return func(topic string, payload []byte) error {
		return s.HandleMessage(ctx, topic, payload)
	}
}

// purge deletes cached server-owned properties absent from the server's list.
func (s *Session) purge(ctx context.Context, payload []byte) error {
	entries, err := decodePropertyList(payload)
	if err != nil {
		return err
	}

	keep := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		keep[e] = struct{}{}
	}

	rows, err := s.store.ListAllProperties(ctx)
	if err != nil {
		return fmt.Errorf("listing properties: %w", err)
	}

	purged := 0
	for _, row := range rows {
		def, ok := s.interfaces[row.Interface]
		if !ok || def.Ownership != OwnershipServer {
			continue
		}
		if _, listed := keep[row.Interface+row.Path]; listed {
			continue
		}
		if err := s.store.DeleteProperty(ctx, row.Interface, row.Path); err != nil {
			return fmt.Errorf("purging %s%s: %w", row.Interface, row.Path, err)
		}
		purged++
	}

	s.debug("server properties purged", "listed", len(entries), "purged", purged)
	return nil
}

// deviceProperties returns the cached device-owned properties that are set
// under the declared major version. Rows from an older major are dropped.
func (s *Session) deviceProperties(ctx context.Context) ([]propcache.StoredProperty, error) {
	rows, err := s.store.ListAllProperties(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing properties: %w", err)
	}

	var props []propcache.StoredProperty
	for _, row := range rows {
		def, ok := s.interfaces[row.Interface]
		if !ok || def.Ownership != OwnershipDevice {
			continue
		}
		if row.InterfaceMajor != def.Major {
			if err := s.store.DeleteProperty(ctx, row.Interface, row.Path); err != nil {
				return nil, fmt.Errorf("dropping stale %s%s: %w", row.Interface, row.Path, err)
			}
			s.debug("dropped property from previous major",
				"interface", row.Interface, "path", row.Path,
				"stored_major", row.InterfaceMajor, "major", def.Major)
			continue
		}
		if len(row.Value) == 0 {
			continue
		}
		props = append(props, row)
	}
	return props, nil
}

func (s *Session) publishAndStore(ctx context.Context, def Interface, path string, payload []byte) error {
	if err := s.publish(s.topics.Interface(def.Name, path), payload); err != nil {
		return fmt.Errorf("publishing %s%s: %w", def.Name, path, err)
	}
	if err := s.store.StoreProperty(ctx, def.Name, path, payload, def.Major); err != nil {
		return fmt.Errorf("storing %s%s: %w", def.Name, path, err)
	}
	return nil
}

func (s *Session) publish(topic string, payload []byte) error {
	return s.pub.Publish(topic, payload, s.qos, false)
}

func (s *Session) lookup(iface, path string) (Interface, error) {
	def, ok := s.interfaces[iface]
	if !ok {
		return Interface{}, fmt.Errorf("%w: %q", ErrUnknownInterface, iface)
	}
	if !strings.HasPrefix(path, "/") || len(path) < 2 {
		return Interface{}, fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	return def, nil
}

func (s *Session) deviceOwned(iface, path string) (Interface, error) {
	def, err := s.lookup(iface, path)
	if err != nil {
		return Interface{}, err
	}
	if def.Ownership != OwnershipDevice {
		return Interface{}, fmt.Errorf("%w: %s is server-owned", ErrOwnership, iface)
	}
	return def, nil
}

func (s *Session) interfaceNames() []string {
	names := make([]string, 0, len(s.interfaces))
	for name := range s.interfaces {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Session) debug(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}
