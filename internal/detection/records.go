// Package detection produces and scores the logs of the request detectors.
package detection

// Detector names as written in the detectionType column.
const (
	TypeSignature     = "Signature"
	TypeSpecification = "Specification"
	TypeHybrid        = "Hybrid"
)

// DetectorTypes lists the detectors in report order.
var DetectorTypes = []string{TypeSignature, TypeSpecification, TypeHybrid}

// Column layouts of the log files.
var (
	DetectionColumns   = []string{"timestamp", "detectionType", "detected", "reason", "request", "response", "requestId"}
	GroundTruthColumns = []string{"timestamp", "attackType", "requestMethod", "requestUrl", "responseStatus", "requestId"}
	RateLimitColumns   = []string{"startTime", "endTime", "isAnomaly", "reason", "requestCount", "clientId", "endpoint"}
)

// DetectionRecord is one detector verdict for one request.
type DetectionRecord struct {
	Index         int    `json:"index"`
	Timestamp     string `json:"timestamp"`
	DetectionType string `json:"detectionType"`
	Detected      string `json:"detected"`
	Reason        string `json:"reason"`
	Request       string `json:"request"`
	Response      string `json:"response"`
	RequestID     string `json:"requestId,omitempty"`
}

// Positive reports whether the detector flagged the request.
func (r DetectionRecord) Positive() bool { return r.Detected == "true" }

func (r DetectionRecord) row() []string {
	return []string{r.Timestamp, r.DetectionType, r.Detected, r.Reason, r.Request, r.Response, r.RequestID}
}

// GroundTruthRecord is what the traffic generator actually sent.
// An empty AttackType marks benign traffic.
type GroundTruthRecord struct {
	Index          int    `json:"index"`
	Timestamp      string `json:"timestamp"`
	AttackType     string `json:"attackType"`
	RequestMethod  string `json:"requestMethod"`
	RequestURL     string `json:"requestUrl"`
	ResponseStatus string `json:"responseStatus"`
	RequestID      string `json:"requestId,omitempty"`
}

func (r GroundTruthRecord) Attack() bool { return r.AttackType != "" }

func (r GroundTruthRecord) row() []string {
	return []string{r.Timestamp, r.AttackType, r.RequestMethod, r.RequestURL, r.ResponseStatus, r.RequestID}
}

// RateLimitRecord summarizes one client window of the rate limiter.
type RateLimitRecord struct {
	Index        int    `json:"index"`
	StartTime    string `json:"startTime"`
	EndTime      string `json:"endTime"`
	IsAnomaly    string `json:"isAnomaly"`
	Reason       string `json:"reason"`
	RequestCount string `json:"requestCount"`
	ClientID     string `json:"clientId"`
	Endpoint     string `json:"endpoint"`
}

func (r RateLimitRecord) Anomaly() bool { return r.IsAnomaly == "true" }

func (r RateLimitRecord) row() []string {
	return []string{r.StartTime, r.EndTime, r.IsAnomaly, r.Reason, r.RequestCount, r.ClientID, r.Endpoint}
}
