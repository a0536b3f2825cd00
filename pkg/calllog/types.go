// Package calllog хранит историю вызовов: сводки по абонентам (LogItem)
// и append-only записи отдельных вызовов (LogDetail).
//
// Обе коллекции живут в памяти и переписываются в долговременное key-value
// хранилище целиком и атомарно друг относительно друга после каждой мутации,
// чтобы исключить расхождение между сводками и деталями.
package calllog

import "time"

// Direction направление вызова
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// LogItem сводка истории по одному удаленному абоненту.
// На каждый номер существует не более одной записи.
type LogItem struct {
	Number       string    `json:"number"`
	DisplayName  string    `json:"displayName"`
	LastActivity time.Time `json:"lastActivity"`
	Pinned       bool      `json:"pinned"`
	// LogID стабильный ключ связи с Line и LogDetail
	LogID string `json:"logId"`
}

// LogDetail запись одного завершенного вызова.
// После создания не изменяется.
type LogDetail struct {
	// LogID ссылка на LogItem абонента
	LogID string `json:"logId"`
	// ID уникальный идентификатор записи
	ID        string    `json:"id"`
	Number    string    `json:"number"`
	Direction Direction `json:"callDirection"`
	StartTime time.Time `json:"startTime"`
	// Времена ниже опциональны: у неотвеченного вызова нет AnswerTime и т.д.
	AnswerTime *time.Time `json:"answerTime,omitempty"`
	RejectTime *time.Time `json:"rejectTime,omitempty"`
	EndTime    *time.Time `json:"endTime,omitempty"`
	// ReasonText человекочитаемая причина завершения
	ReasonText string `json:"reasonText"`
}

// ItemPatch частичное обновление LogItem. nil поле означает "не менять".
type ItemPatch struct {
	DisplayName  *string
	LastActivity *time.Time
	Pinned       *bool
}
