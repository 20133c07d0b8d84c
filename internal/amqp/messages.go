package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"participation/internal/core"
)

// MonthSavedMessage announces that the records of one employee-month were
// replaced. It carries only the key and a summary; consumers reload the
// records from the store.
type MonthSavedMessage struct {
	EmployeeID  string    `json:"employeeId"`
	Year        int       `json:"year"`
	Month       int       `json:"month"`
	RecordCount int       `json:"recordCount"`
	TotalRate   int       `json:"totalRate"`
	Timestamp   time.Time `json:"timestamp"`
}

func NewMonthSavedMessage(key core.MonthKey, recordCount, totalRate int) *MonthSavedMessage {
	return &MonthSavedMessage{
		EmployeeID:  key.EmployeeID,
		Year:        key.Year,
		Month:       key.Month,
		RecordCount: recordCount,
		TotalRate:   totalRate,
		Timestamp:   time.Now().In(core.Seoul()),
	}
}

// Key returns the employee-month the message refers to.
func (m *MonthSavedMessage) Key() core.MonthKey {
	return core.MonthKey{EmployeeID: m.EmployeeID, Year: m.Year, Month: m.Month}
}

// ToJSON converts the message to JSON bytes
func (m *MonthSavedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// MonthSavedMessageFromJSON decodes and validates a message body.
func MonthSavedMessageFromJSON(data []byte) (*MonthSavedMessage, error) {
	var msg MonthSavedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if err := msg.Key().Validate(); err != nil {
		return nil, fmt.Errorf("month saved message: %w", err)
	}
	return &msg, nil
}
