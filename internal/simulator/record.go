package simulator

import (
	"encoding/json"
	"strconv"
	"time"
)

// Station info field names, as reported by the device.
const (
	FieldInactiveTime       = "inactive time"
	FieldRxBytes            = "rx bytes"
	FieldRxPackets          = "rx packets"
	FieldTxBytes            = "tx bytes"
	FieldTxPackets          = "tx packets"
	FieldTxRetries          = "tx retries"
	FieldTxFailed           = "tx failed"
	FieldSignal             = "signal"
	FieldSignalAvg          = "signal avg"
	FieldTxBitrate          = "tx bitrate"
	FieldRxBitrate          = "rx bitrate"
	FieldExpectedThroughput = "expected throughput"
	FieldAuthorized         = "authorized"
	FieldAuthenticated      = "authenticated"
	FieldPreamble           = "preamble"
	FieldWMM                = "WMM/WME"
	FieldMFP                = "MFP"
	FieldTDLSPeer           = "TDLS peer"
	FieldTimestamp          = "timestamp"
)

// TimestampLayout is the layout of the timestamp field in station info.
const TimestampLayout = time.RFC3339Nano

// ClientRecord holds the traffic counters of one associated station.
type ClientRecord struct {
	MAC                string
	InactiveTime       int64
	RxBytes            int64
	RxPackets          int64
	TxBytes            int64
	TxPackets          int64
	TxRetries          int64
	TxFailed           int64
	Signal             int
	SignalAvg          int
	TxBitrate          float64
	RxBitrate          float64
	ExpectedThroughput float64
	Authorized         string
	Authenticated      string
	Preamble           string
	WMM                string
	MFP                string
	TDLSPeer           string
	LastUpdate         time.Time
}

func newClientRecord(mac string, now time.Time) *ClientRecord {
	return &ClientRecord{
		MAC:                mac,
		Signal:             -60,
		SignalAvg:          -59,
		TxBitrate:          144.4,
		RxBitrate:          144.4,
		ExpectedThroughput: 46.875,
		Authorized:         "yes",
		Authenticated:      "yes",
		Preamble:           "long",
		WMM:                "yes",
		MFP:                "no",
		TDLSPeer:           "no",
		LastUpdate:         now,
	}
}

// Measurement is a stringified value with an optional unit. It encodes as a
// two element JSON array, the unit being null when absent.
type Measurement struct {
	Value string
	Unit  string
}

// MarshalJSON implements json.Marshaler.
func (m Measurement) MarshalJSON() ([]byte, error) {
	var unit interface{}
	if m.Unit != "" {
		unit = m.Unit
	}
	return json.Marshal([]interface{}{m.Value, unit})
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *Measurement) UnmarshalJSON(data []byte) error {
	var pair []*string
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	*m = Measurement{}
	if len(pair) > 0 && pair[0] != nil {
		m.Value = *pair[0]
	}
	if len(pair) > 1 && pair[1] != nil {
		m.Unit = *pair[1]
	}
	return nil
}

// StationInfo maps field names to their measurement.
type StationInfo map[string]Measurement

func (r *ClientRecord) info(at time.Time) StationInfo {
	return StationInfo{
		FieldInactiveTime:       {Value: strconv.FormatInt(r.InactiveTime, 10), Unit: "ms"},
		FieldRxBytes:            {Value: strconv.FormatInt(r.RxBytes, 10)},
		FieldRxPackets:          {Value: strconv.FormatInt(r.RxPackets, 10)},
		FieldTxBytes:            {Value: strconv.FormatInt(r.TxBytes, 10)},
		FieldTxPackets:          {Value: strconv.FormatInt(r.TxPackets, 10)},
		FieldTxRetries:          {Value: strconv.FormatInt(r.TxRetries, 10)},
		FieldTxFailed:           {Value: strconv.FormatInt(r.TxFailed, 10)},
		FieldSignal:             {Value: strconv.Itoa(r.Signal), Unit: "dBm"},
		FieldSignalAvg:          {Value: strconv.Itoa(r.SignalAvg), Unit: "dBm"},
		FieldTxBitrate:          {Value: formatFloat(r.TxBitrate), Unit: "MBit/sec"},
		FieldRxBitrate:          {Value: formatFloat(r.RxBitrate), Unit: "MBit/sec"},
		FieldExpectedThroughput: {Value: formatFloat(r.ExpectedThroughput), Unit: "Mbps"},
		FieldAuthorized:         {Value: r.Authorized},
		FieldAuthenticated:      {Value: r.Authenticated},
		FieldPreamble:           {Value: r.Preamble},
		FieldWMM:                {Value: r.WMM},
		FieldMFP:                {Value: r.MFP},
		FieldTDLSPeer:           {Value: r.TDLSPeer},
		FieldTimestamp:          {Value: at.Format(TimestampLayout)},
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// clientTable keeps records in insertion order.
type clientTable struct {
	order   []string
	records map[string]*ClientRecord
}

func newClientTable(macs []string, now time.Time) *clientTable {
	t := &clientTable{
		order:   make([]string, 0, len(macs)),
		records: make(map[string]*ClientRecord, len(macs)),
	}
	for _, mac := range macs {
		if _, exists := t.records[mac]; exists {
			continue
		}
		t.order = append(t.order, mac)
		t.records[mac] = newClientRecord(mac, now)
	}
	return t
}

func (t *clientTable) len() int {
	return len(t.order)
}
