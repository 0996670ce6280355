package domain

import "time"

// Shape is the normalized, kind-specific parameter set an executor consumes.
// Exactly one concrete shape exists per family.
type Shape interface {
	Family() Family
}

// FloodMode selects between a fixed-count burst and a deadline-bound flood.
type FloodMode string

const (
	FloodBurst     FloodMode = "burst"
	FloodSustained FloodMode = "sustained"
)

// FloodShape drives the flood/volume executor.
type FloodShape struct {
	Mode        FloodMode
	Requests    int           // burst: total request count
	Interval    time.Duration // minimum delay between requests within one worker
	Concurrency int
	Duration    time.Duration // sustained: wall-clock deadline
	RPS         int           // sustained: optional rate target
	Method      string
	Path        string
	Headers     map[string]string
	Body        string
}

func (FloodShape) Family() Family { return FamilyFlood }

// Encoding is applied to every injection payload before placement.
type Encoding string

const (
	EncodingNone   Encoding = "none"
	EncodingURL    Encoding = "url"
	EncodingBase64 Encoding = "base64"
)

// InjectionPoint is where the payload is placed in the request.
type InjectionPoint string

const (
	PointQuery  InjectionPoint = "query"
	PointPath   InjectionPoint = "path"
	PointHeader InjectionPoint = "header"
	PointBody   InjectionPoint = "body"
)

// InjectionShape drives the injection/WAF executor.
type InjectionShape struct {
	Kind         TestKind
	Payloads     []string
	Encoding     Encoding
	Point        InjectionPoint
	Param        string
	Path         string
	Method       string
	Headers      map[string]string
	BodyTemplate string
	BodySizeKB   int
	FieldCount   int
}

func (InjectionShape) Family() Family { return FamilyInjection }

// ReachabilityShape drives the raw socket executor.
type ReachabilityShape struct {
	Protocol string // "tcp" or "udp"
	Host     string
	Port     int
	Payload  []byte
	Timeout  time.Duration
}

func (ReachabilityShape) Family() Family { return FamilyReachability }

// APIShape drives the sequential API-abuse executor.
type APIShape struct {
	Kind         TestKind
	Method       string
	Path         string
	Headers      map[string]string
	BodyTemplate string
	Delay        time.Duration

	AuthMode  string
	AuthToken string

	Username  string
	Passwords []string

	EnumTemplate string
	IDStart      int
	IDEnd        int
	Step         int

	FuzzCases    []string
	ContentTypes []string

	ReplayCount int
}

func (APIShape) Family() Family { return FamilyAPIAbuse }

// BotShape drives the bot/crawler executor.
type BotShape struct {
	Kind               TestKind
	Profiles           []string
	FullBrowserHeaders bool
	Path               string
	CrawlDepth         int
	MaxFetches         int
	RespectRobots      bool
	AcceptCookies      bool
}

func (BotShape) Family() Family { return FamilyBot }

// ConnectivityShape drives the basic single-GET check.
type ConnectivityShape struct {
	Method  string
	Path    string
	Headers map[string]string
}

func (ConnectivityShape) Family() Family { return FamilyConnectivity }
