package offers

import (
	"github.com/appgarcom/prestador/internal/models"
	"github.com/appgarcom/prestador/internal/realtime"
)

// Notifier surfaces messages to the provider.
type Notifier interface {
	Notify(n models.Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(models.Notification)

func (f NotifierFunc) Notify(n models.Notification) { f(n) }

// Broadcaster fans notifications out to any number of listeners, such as
// open websocket streams.
type Broadcaster struct {
	hub *realtime.Hub[models.Notification]
}

// NewBroadcaster returns a broadcaster whose listeners keep up to buffer
// notifications. A listener that falls behind loses the oldest ones.
func NewBroadcaster(buffer int) *Broadcaster {
	return &Broadcaster{hub: realtime.NewLatestHub[models.Notification](buffer)}
}

func (b *Broadcaster) Notify(n models.Notification) {
	b.hub.Publish(n)
}

// Listen subscribes to every notification published from now on.
func (b *Broadcaster) Listen() *realtime.Subscription[models.Notification] {
	return b.hub.Subscribe(nil)
}

// Close disconnects every listener.
func (b *Broadcaster) Close() {
	b.hub.Close()
}

const (
	msgNewOffer      = "Você recebeu uma nova oferta!"
	msgAccepted      = "Oferta aceita com sucesso!"
	msgDeclined      = "Oferta recusada com sucesso!"
	msgAcceptFailed  = "Erro ao aceitar a oferta."
	msgDeclineFailed = "Erro ao recusar a oferta."
	msgUnavailable   = "Oferta não encontrada ou já respondida."
	msgLoadFailed    = "Não foi possível carregar os detalhes da oferta."
	msgPendingFailed = "Não foi possível carregar suas ofertas pendentes."
)
