package lyrics

import (
	"bufio"
	"bytes"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"
)

var (
	lrcLineRe    = regexp.MustCompile(`\[(\d{2}):(\d{2})(?:\.(\d{1,3}))?\](.*)`)
	unsafeNameRe = regexp.MustCompile(`[\\/:*?"<>|]`)
)

// Line 一行带时间戳的歌词
type Line struct {
	Time float64 `json:"time"`
	Text string  `json:"text"`
}

// decodeText 去掉 BOM，非 UTF-8 时按 GBK 解码，统一换行符
func decodeText(data []byte) string {
	data = bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})
	text := string(data)
	if !utf8.Valid(data) {
		decoded, err := io.ReadAll(transform.NewReader(bytes.NewReader(data), simplifiedchinese.GBK.NewDecoder()))
		if err == nil {
			text = string(decoded)
		} else {
			logger().Warn().Err(err).Msg("Failed to decode lyric as GBK")
		}
	}
	return strings.ReplaceAll(text, "\r\n", "\n")
}

// ParseLRC 解析 LRC 文本，按时间排序
func ParseLRC(lrc string) []Line {
	scanner := bufio.NewScanner(strings.NewReader(lrc))
	var result []Line

	for scanner.Scan() {
		line := scanner.Text()
		for _, match := range lrcLineRe.FindAllStringSubmatch(line, -1) {
			min, _ := strconv.Atoi(match[1])
			sec, _ := strconv.Atoi(match[2])
			ms := 0
			if msStr := match[3]; msStr != "" {
				ms, _ = strconv.Atoi(msStr)
				// .1 表示 100ms，.49 表示 490ms
				switch len(msStr) {
				case 1:
					ms *= 100
				case 2:
					ms *= 10
				}
			}
			text := strings.TrimSpace(match[4])
			timestamp := float64(min*60+sec) + float64(ms)/1000
			result = append(result, Line{Time: timestamp, Text: text})
		}
	}
	sort.SliceStable(result, func(i, j int) bool { return result[i].Time < result[j].Time })
	return result
}

// LineAt 当前时间对应的歌词行，第一行之前返回 -1
func LineAt(lines []Line, position float64) int {
	idx := sort.Search(len(lines), func(i int) bool { return lines[i].Time > position })
	return idx - 1
}

func sanitizeFilename(name string) string {
	return unsafeNameRe.ReplaceAllString(name, "-")
}
