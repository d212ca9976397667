// Package feedback 根据检测结果生成本地化的教练提示语
package feedback

import (
	"golang.org/x/text/language"

	"yogai/detect"
)

// Localizer picks a coaching line for a verdict in the caller's
// language. The verdict itself stays canonical English; the coach
// line is presentation only.
type Localizer struct {
	matcher  language.Matcher
	tags     []language.Tag
	catalogs []map[string]string
}

func NewLocalizer() *Localizer {
	tags := []language.Tag{language.English, language.Chinese}
	return &Localizer{
		matcher:  language.NewMatcher(tags),
		tags:     tags,
		catalogs: []map[string]string{englishLines, chineseLines},
	}
}

// Coach returns the coaching line for the verdict, matched against an
// Accept-Language header value. Unknown or empty preferences fall
// back to English.
func (l *Localizer) Coach(acceptLanguage string, v detect.Verdict) string {
	_, idx := language.MatchStrings(l.matcher, acceptLanguage)
	lines := l.catalogs[idx]
	if msg, ok := lines[lineKey(v)]; ok {
		return msg
	}
	return lines[detect.StageUnknown]
}

func lineKey(v detect.Verdict) string {
	switch {
	case !v.Success && v.Message == detect.MessageNoPose:
		return "no_pose"
	case !v.Success && v.Message == detect.MessageInvalidImage:
		return "invalid_image"
	case !v.Success:
		return "internal"
	case v.Mode == detect.ModeDemo:
		return "demo"
	case v.Stage != "":
		return v.Stage
	default:
		return detect.StageUnknown
	}
}

var englishLines = map[string]string{
	"correct":       "Great form, keep holding.",
	"low back":      "Your hips are sagging. Lift them back into a straight line.",
	"high back":     "Your hips are too high. Lower them into a straight line.",
	"unknown":       "Hold steady so the camera can read your pose.",
	"no_pose":       "Step back so your whole body is in the frame.",
	"invalid_image": "The camera frame could not be read.",
	"internal":      "Detection hiccup. Keep practicing.",
	"demo":          "Demo mode: no trained model for this pose yet.",
}

var chineseLines = map[string]string{
	"correct":       "动作标准,继续保持。",
	"low back":      "腰部下塌,请抬高髋部保持一条直线。",
	"high back":     "臀部过高,请放低髋部保持一条直线。",
	"unknown":       "请保持稳定,让摄像头看清你的动作。",
	"no_pose":       "请后退一些,让整个身体进入画面。",
	"invalid_image": "无法读取摄像头画面。",
	"internal":      "检测出现问题,请继续练习。",
	"demo":          "演示模式:该体式暂无专属模型。",
}
