package session

import "time"

// Snapshot 可持久化的会话快照，供 store 层保存/恢复
type Snapshot struct {
	CPID              string     `json:"cpId"`
	ConnectorID       int        `json:"connectorId"`
	State             State      `json:"state"`
	TransactionID     *int       `json:"transactionId,omitempty"`
	TxStart           time.Time  `json:"txStart,omitempty"`
	IdTag             string     `json:"idTag,omitempty"`
	ReservationID     *int       `json:"reservationId,omitempty"`
	ReservationExpiry *time.Time `json:"reservationExpiry,omitempty"`
	SoC               float64    `json:"soc"`
	TargetSoC         float64    `json:"targetSoc"`
	EnergyWh          float64    `json:"energyWh"`
	SavedAt           time.Time  `json:"savedAt"`
}

// Snapshot 导出当前会话快照
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		CPID:        s.CPID,
		ConnectorID: s.ConnectorID,
		State:       State(s.machine.Current()),
		IdTag:       s.idTag,
		SoC:         s.soc,
		TargetSoC:   s.targetSoC,
		EnergyWh:    s.energyWh,
		SavedAt:     time.Now(),
	}
	if s.transactionID != nil {
		id := *s.transactionID
		snap.TransactionID = &id
		snap.TxStart = s.txStart
	}
	if s.reservation != nil {
		id := s.reservation.ID
		exp := s.reservation.Expiry
		snap.ReservationID = &id
		snap.ReservationExpiry = &exp
	}
	return snap
}

// Restore 从快照恢复会话的可持久化字段。预约到期定时器由上层重建。
func (s *Session) Restore(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.machine.SetState(string(snap.State))
	s.idTag = snap.IdTag
	s.soc = snap.SoC
	s.targetSoC = snap.TargetSoC
	s.energyWh = snap.EnergyWh
	if snap.TransactionID != nil {
		id := *snap.TransactionID
		s.transactionID = &id
		s.txStart = snap.TxStart
	} else {
		s.transactionID = nil
	}
	if snap.ReservationID != nil && snap.ReservationExpiry != nil {
		s.reservation = &Reservation{ID: *snap.ReservationID, IdTag: snap.IdTag, Expiry: *snap.ReservationExpiry}
	} else {
		s.reservation = nil
	}
	s.appendEventLocked("snapshot", "restored")
}
