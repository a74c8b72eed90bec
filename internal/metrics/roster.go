package metrics

import "gameRoster/internal/model"

func (m *Metrics) RecordJoin(role model.Role, status model.Status) {
	m.safeExecute("RecordJoin", func() {
		m.JoinsTotal.WithLabelValues(string(role), string(status)).Inc()
	})
}

func (m *Metrics) RecordRemoval(role model.Role, status model.Status) {
	m.safeExecute("RecordRemoval", func() {
		m.RemovalsTotal.WithLabelValues(string(role), string(status)).Inc()
	})
}

func (m *Metrics) RecordSwitch(from, to model.Role, status model.Status) {
	m.safeExecute("RecordSwitch", func() {
		m.RoleSwitchesTotal.WithLabelValues(string(from), string(to), string(status)).Inc()
	})
}

func (m *Metrics) RecordPromotion(role model.Role) {
	m.safeExecute("RecordPromotion", func() {
		m.PromotionsTotal.WithLabelValues(string(role)).Inc()
	})
}

func (m *Metrics) RecordConflictRetry() {
	m.safeExecute("RecordConflictRetry", func() {
		m.ConflictRetriesTotal.Inc()
	})
}
