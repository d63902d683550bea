package premium

import "errors"

// Ошибки бизнес-логики, различаемые вызывающим кодом через errors.Is.
var (
	// ErrUnknownFeature возвращается при попытке купить возможность,
	// которой нет в тарифной таблице.
	ErrUnknownFeature = errors.New("unknown feature")
	// ErrPaymentNotFound возвращается, когда подтверждение ссылается
	// на неизвестный payment_id.
	ErrPaymentNotFound = errors.New("payment not found")
	// ErrAlreadyProcessed возвращается при попытке перевести запись
	// из состояния, не допускающего запрошенный переход.
	ErrAlreadyProcessed = errors.New("payment already processed")
)
