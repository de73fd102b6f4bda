// internal/service/route.go
package service

import (
    "strings"

    "github.com/magictalent/ai-agent-backend/internal/model"
)

// route is the closed set of ways an item can be dispatched.
type route interface {
    isRoute()
}

type bookRoute struct{}

type emailRoute struct{ to string }

type smsRoute struct{ to string }

type whatsappRoute struct{ to string }

type unsupportedRoute struct {
    channel model.Channel
    kind    model.StepType
}

func (bookRoute) isRoute()        {}
func (emailRoute) isRoute()       {}
func (smsRoute) isRoute()         {}
func (whatsappRoute) isRoute()    {}
func (unsupportedRoute) isRoute() {}

// routeFor picks the route from the item's type and channel. Booking steps
// ignore the channel. An unknown lead leaves the address empty.
func routeFor(item *model.SequenceItem, lead *model.Lead) route {
    var email, phone string
    if lead != nil {
        email = strings.TrimSpace(lead.Email)
        phone = strings.TrimSpace(lead.Phone)
    }

    switch item.Type {
    case model.StepTypeBook:
        return bookRoute{}
    case model.StepTypeEmail:
        switch item.Channel {
        case model.ChannelEmail:
            return emailRoute{to: email}
        case model.ChannelSMS:
            return smsRoute{to: phone}
        case model.ChannelWhatsApp:
            return whatsappRoute{to: phone}
        }
    }
    return unsupportedRoute{channel: item.Channel, kind: item.Type}
}
