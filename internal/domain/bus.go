package domain

// MessageBus carries inbound events from channels to the intake loop.
type MessageBus interface {
	Publish(evt InboundEvent)
	Subscribe() <-chan InboundEvent
	Close()
}
