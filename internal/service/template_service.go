// internal/service/template_service.go
package service

import (
    "sort"
    "strings"
    "time"

    "github.com/magictalent/ai-agent-backend/internal/model"
)

// RenderTemplate replaces every {key} in template with data[key].
// Substitution is single pass, so values are never re-expanded.
func RenderTemplate(template string, data map[string]string) string {
    keys := make([]string, 0, len(data))
    for k := range data {
        keys = append(keys, k)
    }
    sort.Strings(keys)

    pairs := make([]string, 0, len(keys)*2)
    for _, k := range keys {
        pairs = append(pairs, "{"+k+"}", data[k])
    }
    return strings.NewReplacer(pairs...).Replace(template)
}

type stepTemplate struct {
    Type    model.StepType
    Offset  time.Duration
    Subject string
    Body    string
}

const day = 24 * time.Hour

// sequenceSteps is the fixed outreach cadence: opener, follow-up, soft close, booking.
var sequenceSteps = [...]stepTemplate{
    {
        Type:    model.StepTypeEmail,
        Offset:  0,
        Subject: "Quick question for {company}",
        Body: "Hi {first_name},\n\n" +
            "I'm reaching out about {campaign}. We help teams like {company} get more " +
            "qualified conversations without adding headcount.\n\n" +
            "Would it be worth a short chat to see if it fits?",
    },
    {
        Type:    model.StepTypeEmail,
        Offset:  2 * day,
        Subject: "Following up on {campaign}",
        Body: "Hi {first_name},\n\n" +
            "Just bumping my note from a couple of days ago. Happy to share a quick " +
            "example of what {campaign} looked like for a team similar to {company}.",
    },
    {
        Type:    model.StepTypeEmail,
        Offset:  5 * day,
        Subject: "Should I close the loop?",
        Body: "Hi {first_name},\n\n" +
            "I haven't heard back, so I'll assume the timing isn't right. If {campaign} " +
            "becomes a priority later, just reply to this message and I'll pick it up.",
    },
    {
        Type:    model.StepTypeBook,
        Offset:  7 * day,
        Subject: "Intro call: {campaign}",
        Body: "A 30 minute call with {first_name} from {company} to walk through {campaign}.",
    },
}

// templateData fills placeholders, falling back to neutral wording when the
// lead or campaign is unknown.
func templateData(lead *model.Lead, campaign *model.Campaign) map[string]string {
    data := map[string]string{
        "first_name": "there",
        "last_name":  "",
        "company":    "your team",
        "campaign":   "our latest offer",
    }
    if lead != nil {
        if name := strings.TrimSpace(lead.FirstName); name != "" {
            data["first_name"] = name
        }
        data["last_name"] = strings.TrimSpace(lead.LastName)
        if company := strings.TrimSpace(lead.Company); company != "" {
            data["company"] = company
        }
    }
    if campaign != nil {
        if name := strings.TrimSpace(campaign.Name); name != "" {
            data["campaign"] = name
        }
    }
    return data
}
