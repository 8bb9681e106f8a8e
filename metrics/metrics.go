package metrics

import (
	"context"

	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/tag"
)

var (
	KeyAction, _ = tag.NewKey("action")
	KeyKind, _   = tag.NewKey("kind")
	KeyResult, _ = tag.NewKey("result")
)

var (
	MTransitions          = stats.Int64("loanflow/transitions", "committed transitions", stats.UnitDimensionless)
	MConflicts            = stats.Int64("loanflow/conflicts", "concurrency token conflicts", stats.UnitDimensionless)
	MSlaBreaches          = stats.Int64("loanflow/sla_escalations", "sla breaches and escalations", stats.UnitDimensionless)
	MVotes                = stats.Int64("loanflow/votes", "committee votes cast", stats.UnitDimensionless)
	MDecisions            = stats.Int64("loanflow/review_decisions", "committee reviews closed", stats.UnitDimensionless)
	MNotificationFailures = stats.Int64("loanflow/notification_failures", "failed bridge deliveries", stats.UnitDimensionless)
)

var Views = []*view.View{
	{Name: "loanflow/transitions", Measure: MTransitions, Aggregation: view.Count(), TagKeys: []tag.Key{KeyAction}},
	{Name: "loanflow/conflicts", Measure: MConflicts, Aggregation: view.Count(), TagKeys: []tag.Key{KeyKind}},
	{Name: "loanflow/sla_escalations", Measure: MSlaBreaches, Aggregation: view.Count(), TagKeys: []tag.Key{KeyKind}},
	{Name: "loanflow/votes", Measure: MVotes, Aggregation: view.Count(), TagKeys: []tag.Key{KeyKind}},
	{Name: "loanflow/review_decisions", Measure: MDecisions, Aggregation: view.Count(), TagKeys: []tag.Key{KeyResult}},
	{Name: "loanflow/notification_failures", Measure: MNotificationFailures, Aggregation: view.Count(), TagKeys: []tag.Key{KeyKind}},
}

func Register() error {
	return view.Register(Views...)
}

func Unregister() {
	view.Unregister(Views...)
}

func record(ctx context.Context, key tag.Key, value string, m *stats.Int64Measure) {
	_ = stats.RecordWithTags(ctx, []tag.Mutator{tag.Upsert(key, value)}, m.M(1))
}

func Transition(ctx context.Context, action string) {
	record(ctx, KeyAction, action, MTransitions)
}

func Conflict(ctx context.Context, entity string) {
	record(ctx, KeyKind, entity, MConflicts)
}

func SlaEscalation(ctx context.Context, kind string) {
	record(ctx, KeyKind, kind, MSlaBreaches)
}

func Vote(ctx context.Context, vote string) {
	record(ctx, KeyKind, vote, MVotes)
}

func Decision(ctx context.Context, result string) {
	record(ctx, KeyResult, result, MDecisions)
}

func NotificationFailure(ctx context.Context, kind string) {
	record(ctx, KeyKind, kind, MNotificationFailures)
}
