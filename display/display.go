package display

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
)

const (
	timeLayout = "2006-01-02 15:04:05"
	separator  = "==========================================================="
)

var (
	Output io.Writer = os.Stdout
	now              = time.Now
)

// PrintfWithTime 输出带时间前缀的一行
func PrintfWithTime(format string, a ...interface{}) {
	fmt.Fprintf(Output, "[%s] %s", now().Format(timeLayout), fmt.Sprintf(format, a...))
}

func Title(format string, a ...interface{}) {
	fmt.Fprintln(Output, separator)
	fmt.Fprintln(Output, color.HiBlueString(format, a...))
}

func Separator() {
	fmt.Fprintln(Output, separator)
}

func Waiting(format string, a ...interface{}) {
	PrintfWithTime("%s\n", color.HiYellowString(format, a...))
}

func Success(format string, a ...interface{}) {
	PrintfWithTime("%s\n", color.HiGreenString(format, a...))
}

func Failure(format string, a ...interface{}) {
	PrintfWithTime("%s\n", color.HiRedString(format, a...))
}

// Field 按固定宽度对齐输出 key: value
func Field(key string, value interface{}) {
	fmt.Fprintf(Output, "%-20s%v\n", key+":", value)
}
