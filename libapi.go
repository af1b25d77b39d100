package synapse

import (
	"google.golang.org/protobuf/proto"

	runtimepkg "github.com/drblury/synapse/internal/runtime"
	configpkg "github.com/drblury/synapse/internal/runtime/config"
	errspkg "github.com/drblury/synapse/internal/runtime/errors"
	handlerpkg "github.com/drblury/synapse/internal/runtime/handlers"
	idspkg "github.com/drblury/synapse/internal/runtime/ids"
	jsoncodec "github.com/drblury/synapse/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/synapse/internal/runtime/logging"
	metadatapkg "github.com/drblury/synapse/internal/runtime/metadata"
)

type (
	Config          = configpkg.Config
	Bus             = runtimepkg.Bus
	BusDependencies = runtimepkg.BusDependencies

	Envelope          = runtimepkg.Envelope
	EnvelopeOption    = runtimepkg.EnvelopeOption
	PublishOption     = runtimepkg.PublishOption
	Priority          = runtimepkg.Priority
	Lane              = runtimepkg.Lane
	ShedPolicy        = runtimepkg.ShedPolicy
	PressureGauge     = runtimepkg.PressureGauge
	Handler           = runtimepkg.Handler
	HandlerFunc       = runtimepkg.HandlerFunc
	SubscriptionToken = runtimepkg.SubscriptionToken
	Producer          = runtimepkg.Producer

	TickReport = runtimepkg.TickReport
	LaneReport = runtimepkg.LaneReport

	Middleware             = runtimepkg.Middleware
	NextFunc               = runtimepkg.NextFunc
	MiddlewareBuilder      = runtimepkg.MiddlewareBuilder
	MiddlewareRegistration = runtimepkg.MiddlewareRegistration
	Verifier               = runtimepkg.Verifier
	VerifierFunc           = runtimepkg.VerifierFunc
	Quarantine             = runtimepkg.Quarantine
	QuarantineFunc         = runtimepkg.QuarantineFunc
	QuarantineList         = runtimepkg.QuarantineList
	RedisQuarantine        = runtimepkg.RedisQuarantine
	SetMembershipReader    = runtimepkg.SetMembershipReader

	// Dispatch hooks
	DispatchContext = runtimepkg.DispatchContext
	DispatchHooks   = runtimepkg.DispatchHooks

	// Stats and metrics
	BusStats          = runtimepkg.BusStats
	LaneStats         = runtimepkg.LaneStats
	LatencyMetrics    = runtimepkg.LatencyMetrics
	ThroughputMetrics = runtimepkg.ThroughputMetrics
	FaultBreakdown    = runtimepkg.FaultBreakdown
	ResourceUsage     = runtimepkg.ResourceUsage
	BusMetrics        = runtimepkg.BusMetrics

	// Fault classification
	FaultCategory   = runtimepkg.FaultCategory
	FaultClassifier = runtimepkg.FaultClassifier

	// Watermill bridge
	WatermillPublisher = runtimepkg.WatermillPublisher

	EnvelopeInfo                          = handlerpkg.EnvelopeInfo
	EnvelopeContextBase                   = handlerpkg.EnvelopeContextBase
	JSONEnvelopeContext[T any]            = handlerpkg.JSONEnvelopeContext[T]
	JSONEnvelopeHandler[T any]            = handlerpkg.JSONEnvelopeHandler[T]
	ProtoEnvelopeContext[T proto.Message] = handlerpkg.ProtoEnvelopeContext[T]
	ProtoEnvelopeHandler[T proto.Message] = handlerpkg.ProtoEnvelopeHandler[T]
	DecodeError                           = handlerpkg.DecodeError

	Metadata = metadatapkg.Metadata

	LogFields                 = loggingpkg.LogFields
	ServiceLogger             = loggingpkg.ServiceLogger
	EntryLogger               = loggingpkg.EntryLogger
	EntryLoggerAdapter[T any] = loggingpkg.EntryLoggerAdapter[T]

	ConfigValidationError = errspkg.ConfigValidationError
	HandlerPanicError     = errspkg.HandlerPanicError
)

var (
	NewBus         = runtimepkg.NewBus
	TryNewBus      = runtimepkg.TryNewBus
	ValidateConfig = configpkg.ValidateConfig
	ConfigFromEnv  = configpkg.FromEnv

	NewEnvelope      = runtimepkg.NewEnvelope
	MustEnvelope     = runtimepkg.MustEnvelope
	NewJSONEnvelope  = runtimepkg.NewJSONEnvelope
	NewProtoEnvelope = runtimepkg.NewProtoEnvelope
	WithSource       = runtimepkg.WithSource
	WithChannel      = runtimepkg.WithChannel
	WithMetadata     = runtimepkg.WithMetadata
	WithEnvelopeID   = runtimepkg.WithEnvelopeID
	WithCreatedAt    = runtimepkg.WithCreatedAt
	WithBatchLane    = runtimepkg.WithBatchLane

	ParsePriority = runtimepkg.ParsePriority
	ClampPressure = runtimepkg.ClampPressure
	NewShedPolicy = runtimepkg.NewShedPolicy
	Lanes         = runtimepkg.Lanes

	DefaultMiddlewares     = runtimepkg.DefaultMiddlewares
	VerificationMiddleware = runtimepkg.VerificationMiddleware
	QuarantineMiddleware   = runtimepkg.QuarantineMiddleware
	LogEnvelopesMiddleware = runtimepkg.LogEnvelopesMiddleware
	TracerMiddleware       = runtimepkg.TracerMiddleware

	NewQuarantineList  = runtimepkg.NewQuarantineList
	NewRedisQuarantine = runtimepkg.NewRedisQuarantine

	// Dispatch hooks
	LoggingHooks  = runtimepkg.LoggingHooks
	MetricsHooks  = runtimepkg.MetricsHooks
	AlertingHooks = runtimepkg.AlertingHooks

	NewBusMetrics = runtimepkg.NewBusMetrics

	// Watermill bridge
	NewWatermillPublisher = runtimepkg.NewWatermillPublisher
	EnvelopeFromMessage   = runtimepkg.EnvelopeFromMessage
	MessageFromEnvelope   = runtimepkg.MessageFromEnvelope
	ForwardHandler        = runtimepkg.ForwardHandler

	Marshal       = jsoncodec.Marshal
	MarshalIndent = jsoncodec.MarshalIndent
	Unmarshal     = jsoncodec.Unmarshal
	Encode        = jsoncodec.Encode
	Decode        = jsoncodec.Decode

	ErrBusRequired          = errspkg.ErrBusRequired
	ErrConfigRequired       = errspkg.ErrConfigRequired
	ErrLoggerRequired       = errspkg.ErrLoggerRequired
	ErrEnvelopeRequired     = errspkg.ErrEnvelopeRequired
	ErrEventTypeRequired    = errspkg.ErrEventTypeRequired
	ErrInvalidPriority      = errspkg.ErrInvalidPriority
	ErrHandlerRequired      = errspkg.ErrHandlerRequired
	ErrChannelRequired      = errspkg.ErrChannelRequired
	ErrMiddlewareRequired   = errspkg.ErrMiddlewareRequired
	ErrBusClosed            = errspkg.ErrBusClosed
	ErrPublisherRequired    = errspkg.ErrPublisherRequired
	ErrSubscriberRequired   = errspkg.ErrSubscriberRequired
	ErrTopicRequired        = errspkg.ErrTopicRequired
	ErrPayloadRequired      = errspkg.ErrPayloadRequired
	ErrPayloadTypeRequired  = errspkg.ErrPayloadTypeRequired
	ErrPayloadPointerNeeded = errspkg.ErrPayloadPointerNeeded
	ErrVerifierRequired     = errspkg.ErrVerifierRequired
	ErrQuarantineRequired   = errspkg.ErrQuarantineRequired

	NewSlogServiceLogger      = loggingpkg.NewSlogServiceLogger
	NewZerologServiceLogger   = loggingpkg.NewZerologServiceLogger
	NewWatermillServiceLogger = loggingpkg.NewWatermillServiceLogger
	NewWatermillAdapter       = loggingpkg.NewWatermillAdapter

	NewMetadata = metadatapkg.New

	// NewEnvelopeID generates a monotonic ULID, the default envelope ID.
	NewEnvelopeID = idspkg.NewEnvelopeID
	EnvelopeTime  = idspkg.Time
)

const (
	PriorityCritical = runtimepkg.PriorityCritical
	PriorityHigh     = runtimepkg.PriorityHigh
	PriorityNormal   = runtimepkg.PriorityNormal
	PriorityLow      = runtimepkg.PriorityLow

	LaneBatch    = runtimepkg.LaneBatch
	LaneCritical = runtimepkg.LaneCritical
	LaneHigh     = runtimepkg.LaneHigh
	LaneNormal   = runtimepkg.LaneNormal
	LaneLow      = runtimepkg.LaneLow

	// MaxPressure is the upper bound of the pressure gauge.
	MaxPressure = configpkg.MaxPressure
)

// Metadata keys - use these constants for standard metadata fields.
const (
	MetadataKeyCorrelationID = handlerpkg.MetadataKeyCorrelationID
	MetadataKeyPayloadType   = handlerpkg.MetadataKeyPayloadType

	// Headers interpreted by the Watermill bridge.
	MetadataKeyPriority  = handlerpkg.MetadataKeyPriority
	MetadataKeyBatch     = handlerpkg.MetadataKeyBatch
	MetadataKeyEventType = handlerpkg.MetadataKeyEventType
	MetadataKeySource    = handlerpkg.MetadataKeySource
)

// Fault category constants for FaultClassifier.
const (
	FaultCategoryNone       = runtimepkg.FaultCategoryNone
	FaultCategoryValidation = runtimepkg.FaultCategoryValidation
	FaultCategoryPanic      = runtimepkg.FaultCategoryPanic
	FaultCategoryCanceled   = runtimepkg.FaultCategoryCanceled
	FaultCategoryOther      = runtimepkg.FaultCategoryOther
)

func SubscribeJSON[T any](b *Bus, channel string, fn JSONEnvelopeHandler[T]) (SubscriptionToken, error) {
	return runtimepkg.SubscribeJSON(b, channel, fn)
}

func SubscribeProto[T proto.Message](b *Bus, channel string, fn ProtoEnvelopeHandler[T]) (SubscriptionToken, error) {
	return runtimepkg.SubscribeProto(b, channel, fn)
}

func JSONHandler[T any](logger ServiceLogger, fn JSONEnvelopeHandler[T]) (Handler, error) {
	return runtimepkg.JSONHandler(logger, fn)
}

func ProtoHandler[T proto.Message](logger ServiceLogger, fn ProtoEnvelopeHandler[T]) (Handler, error) {
	return runtimepkg.ProtoHandler(logger, fn)
}

func DecodeJSON[T any](env *Envelope) (T, error) {
	return runtimepkg.DecodeJSON[T](env)
}

func DecodeProto[T proto.Message](env *Envelope) (T, error) {
	return runtimepkg.DecodeProto[T](env)
}

func NewProtoMessage[T proto.Message]() (T, error) {
	return runtimepkg.NewProtoMessage[T]()
}

func MustProtoMessage[T proto.Message]() T {
	return runtimepkg.MustProtoMessage[T]()
}

func NewEntryServiceLogger[T EntryLoggerAdapter[T]](entry T) ServiceLogger {
	return loggingpkg.NewEntryServiceLogger(entry)
}
