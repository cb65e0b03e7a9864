package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// ActorKind identifies a class of durable actor.
type ActorKind string

const (
	KindOrchestrator          ActorKind = "orchestrator"
	KindClaimsAnalyzer        ActorKind = "claims-analyzer"
	KindComplianceAuditor     ActorKind = "compliance-auditor"
	KindLearningPathGenerator ActorKind = "learning-path-generator"
)

// DefaultInstanceKey is used when a request carries no business identifier
// and the missing-key policy is "pool". All such requests share one instance.
const DefaultInstanceKey = "default"

func ParseActorKind(s string) (ActorKind, error) {
	switch ActorKind(s) {
	case KindOrchestrator, KindClaimsAnalyzer, KindComplianceAuditor, KindLearningPathGenerator:
		return ActorKind(s), nil
	}
	return "", fmt.Errorf("unknown actor kind %q", s)
}

// Bilingual is an Arabic/English text pair used for human-facing output.
type Bilingual struct {
	AR string `json:"ar"`
	EN string `json:"en"`
}

// ActorInstance is the durable state record of one (kind, instanceKey) actor.
// State is a kind-specific JSON document; counters inside it are monotonic.
type ActorInstance struct {
	Kind         ActorKind       `json:"kind"`
	Key          string          `json:"instanceKey"`
	State        json.RawMessage `json:"state"`
	RequestCount int64           `json:"requestCount"`
	CreatedAt    time.Time       `json:"createdAt"`
	LastActivity time.Time       `json:"lastActivity"`
}

// LogRecord is one entry of an actor's append-only request/response log.
type LogRecord struct {
	RequestID string          `json:"requestId"`
	Direction string          `json:"direction" enum:"request,response,error"`
	Payload   json.RawMessage `json:"payload"`
	TS        time.Time       `json:"ts"`
}

const (
	LogRequest  = "request"
	LogResponse = "response"
	LogError    = "error"
)

type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepSucceeded StepStatus = "succeeded"
	StepFailed    StepStatus = "failed"
)

type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// StepRecord is the persisted outcome of one named step within a run. Only
// the latest record per (run, name) is authoritative for replay; earlier
// attempts are kept in the event log for diagnosis.
type StepRecord struct {
	Name        string          `json:"name"`
	Status      StepStatus      `json:"status" enum:"pending,succeeded,failed"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	Attempt     int             `json:"attempt"`
	StartedAt   time.Time       `json:"startedAt"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
}

// TaskRun is one durable execution of an ordered sequence of steps.
type TaskRun struct {
	ID          string          `json:"runId"`
	Kind        ActorKind       `json:"kind"`
	Params      json.RawMessage `json:"params"`
	Status      RunStatus       `json:"status" enum:"running,completed,failed"`
	Steps       []StepRecord    `json:"steps"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
}

// Step returns the recorded step with the given name, or nil.
func (r *TaskRun) Step(name string) *StepRecord {
	for i := range r.Steps {
		if r.Steps[i].Name == name {
			return &r.Steps[i]
		}
	}
	return nil
}

// --- per-kind actor state ---

type ClaimsState struct {
	ClaimsAnalyzed int      `json:"claimsAnalyzed"`
	AutoResolvable int      `json:"autoResolvable"`
	LastConfidence float64  `json:"lastConfidence"`
	RecentClaims   []string `json:"recentClaims,omitempty"`
}

type AuditState struct {
	AuditsCompleted int     `json:"auditsCompleted"`
	ScoreSum        float64 `json:"scoreSum"`
	LastOutcome     string  `json:"lastOutcome,omitempty"`
}

// AverageScore derives the running mean from the monotonic sum.
func (s AuditState) AverageScore() float64 {
	if s.AuditsCompleted == 0 {
		return 0
	}
	return s.ScoreSum / float64(s.AuditsCompleted)
}

type LearningState struct {
	PathsGenerated int `json:"pathsGenerated"`
	TotalModules   int `json:"totalModules"`
	TotalHours     int `json:"totalHours"`
}

type HubState struct {
	RequestsRouted int            `json:"requestsRouted"`
	Failures       int            `json:"failures"`
	PerAction      map[string]int `json:"perAction,omitempty"`
}

// --- result records (immutable once produced) ---

type ClaimAnalysis struct {
	ClaimID              string      `json:"claimId"`
	RunID                string      `json:"runId"`
	ConfidenceScore      float64     `json:"confidenceScore"`
	AutomationAvailable  bool        `json:"automationAvailable"`
	ManualReviewRequired bool        `json:"manualReviewRequired"`
	RootCauses           []string    `json:"rootCauses"`
	Recommendations      []Bilingual `json:"recommendations"`
	NextActions          []string    `json:"nextActions"`
	ProcessedAt          time.Time   `json:"processedAt" format:"date-time"`
}

type CorrectiveAction struct {
	ActionID     string    `json:"actionId"`
	Type         string    `json:"type"`
	Title        Bilingual `json:"title"`
	DeadlineDays int       `json:"deadlineDays"`
}

type AuditSampleError struct {
	Code string    `json:"code"`
	Desc Bilingual `json:"desc"`
}

type AuditSample struct {
	ClaimID       string             `json:"claimId"`
	HasErrors     bool               `json:"hasErrors"`
	Errors        []AuditSampleError `json:"errors,omitempty"`
	PenaltyPoints int                `json:"penaltyPoints"`
}

type FraudIndicator struct {
	Indicator string `json:"indicator"`
	Severity  string `json:"severity"`
	Count     int    `json:"count"`
}

type FraudReport struct {
	RiskScore             int              `json:"fraudRiskScore"`
	Indicators            []FraudIndicator `json:"fraudIndicators"`
	RequiresInvestigation bool             `json:"requiresInvestigation"`
	AnalyzedClaims        int              `json:"analyzedClaims"`
}

type AuditResult struct {
	AuditID           string             `json:"auditId"`
	RunID             string             `json:"runId"`
	ProviderID        string             `json:"providerId"`
	SBSVersion        string             `json:"sbsVersion"`
	ComplianceScore   float64            `json:"complianceScore"`
	RiskLevel         string             `json:"riskLevel" enum:"low,medium,high,critical"`
	AuditOutcome      string             `json:"auditOutcome"`
	SampleSize        int                `json:"sampleSize"`
	TotalErrors       int                `json:"totalErrors"`
	Samples           []AuditSample      `json:"auditResults,omitempty"`
	CorrectiveActions []CorrectiveAction `json:"correctiveActions"`
	Fraud             *FraudReport       `json:"fraudDetection,omitempty"`
	Summary           Bilingual          `json:"summary"`
	AuditDate         time.Time          `json:"auditDate" format:"date-time"`
}

type LearningModule struct {
	ID    string    `json:"id"`
	Title Bilingual `json:"title"`
	Hours int       `json:"hours"`
}

type SkillGap struct {
	Skill        string `json:"skill"`
	CurrentLevel int    `json:"currentLevel"`
	TargetLevel  int    `json:"targetLevel"`
}

type LearningPath struct {
	LearnerID                string           `json:"learnerId"`
	RunID                    string           `json:"runId"`
	TargetCertification      string           `json:"targetCertification"`
	Modules                  []LearningModule `json:"modules"`
	TotalModules             int              `json:"totalModules"`
	TotalEstimatedHours      int              `json:"totalEstimatedHours"`
	RecommendedPace          string           `json:"recommendedPace"`
	SkillGaps                []SkillGap       `json:"skillGaps"`
	SuccessProbability       float64          `json:"successProbability"`
	EstimatedCompletionWeeks int              `json:"estimatedCompletionWeeks"`
}
