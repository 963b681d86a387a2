package domain

import "errors"

var (
	// ErrMalformedSeries marca una serie con timestamps no crecientes u OHLC faltantes.
	// Es el único error del núcleo que se propaga al llamador.
	ErrMalformedSeries = errors.New("malformed bar sequence")

	// ErrInvalidSignal marca una señal cuyo stop o target está del lado equivocado.
	ErrInvalidSignal = errors.New("invalid signal")

	// ErrRejected lo devuelve un Executor que rechaza una señal (límite diario,
	// posición duplicada). El rechazo es terminal para esa señal.
	ErrRejected = errors.New("signal rejected")
)
