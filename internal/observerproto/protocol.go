package observerproto

// Version is the observer protocol version.
const Version = "0.1"

const (
	TypeSubscribe = "SUBSCRIBE"
	TypeFrame     = "FRAME"
)

// Client -> Server. First message on the observer WS connection, and can be
// re-sent to change the filter.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`

	// Goods limits the price list to these goods; empty means all.
	Goods []string `json:"goods,omitempty"`
	// Decisions asks for the per-building decisions that produced each frame.
	Decisions bool `json:"decisions,omitempty"`
}

// HTTP response for GET /v1/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string             `json:"protocol_version"`
	RunID           string             `json:"run_id"`
	Tick            uint64             `json:"tick"`
	CatalogDigest   string             `json:"catalog_digest"`
	Params          Params             `json:"params"`
	Goods           []GoodInfo         `json:"goods"`
	BuildingTypes   []BuildingTypeInfo `json:"building_types"`
}

type Params struct {
	Step            float64 `json:"step"`
	MaintenanceCost float64 `json:"maintenance_cost"`
	PriceFloor      float64 `json:"price_floor"`
	HikeMultiplier  float64 `json:"hike_multiplier"`
	Damping         float64 `json:"damping"`
	ProbeOffset     float64 `json:"probe_offset"`
	WageFactor      float64 `json:"wage_factor"`
}

type GoodInfo struct {
	ID    string `json:"id"`
	Color string `json:"color,omitempty"`
}

type BuildingTypeInfo struct {
	ID      string             `json:"id"`
	Color   string             `json:"color,omitempty"`
	Inputs  map[string]float64 `json:"inputs,omitempty"`
	Outputs map[string]float64 `json:"outputs,omitempty"`
}

// Server -> Client. Sent for every appended frame, and once right after subscribing.
type FrameMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	RunID           string `json:"run_id"`
	Tick            uint64 `json:"tick"`
	Digest          string `json:"digest"`

	Goods     []GoodState     `json:"goods"`
	Buildings []BuildingState `json:"buildings"`
	Decisions []Decision      `json:"decisions,omitempty"`
}

type GoodState struct {
	Good  string  `json:"good"`
	Price float64 `json:"price"`
	Buy   float64 `json:"buy"`
	Sell  float64 `json:"sell"`
}

type BuildingState struct {
	Index      int     `json:"index"`
	Type       string  `json:"type"`
	Kind       string  `json:"kind"`
	Level      int     `json:"level"`
	Activation float64 `json:"activation"`
	Profit     float64 `json:"profit"`
}

type Decision struct {
	Index  int     `json:"index"`
	Action string  `json:"action"`
	From   float64 `json:"from"`
	To     float64 `json:"to"`
}
