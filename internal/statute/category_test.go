package statute

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCategoryByID(t *testing.T) {
	t.Parallel()

	for _, want := range Categories() {
		got, err := CategoryByID(want.ID())
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := CategoryByID(9)
	require.True(t, errors.Is(err, ErrUnknownCategory))
}

func TestCategorySlug(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "hierarchy_1_法律法规", LegalRegulation.Slug())
	assert.Equal(t, "hierarchy_2_规章制度", RegulatoryRule.Slug())
	assert.Equal(t, "hierarchy_3_行业动态", IndustryNews.Slug())
}

func TestRenderSortsAndStripsParagraphs(t *testing.T) {
	t.Parallel()

	doc := Document{
		Title:       "关于建立在线诉调对接机制的通知",
		PublishDate: "2022-03-01",
		ReferenceNo: "人社部发〔2022〕1号",
		Paragraphs: []Paragraph{
			{GroupID: 2, Content: "<p>第二段</p>"},
			{GroupID: 1, Content: "<p><b>第一段</b></p>"},
			{GroupID: 3, Content: "<br/>"},
		},
	}

	got := LegalRegulation.Render(doc)
	want := "# 关于建立在线诉调对接机制的通知\n\n" +
		"发布时间: 2022-03-01\n\n" +
		"文号: 人社部发〔2022〕1号\n\n" +
		"第一段\n\n" +
		"第二段\n\n"
	assert.Equal(t, want, got)
}

func TestRenderKeepsBlockBreaksWithinParagraph(t *testing.T) {
	t.Parallel()

	doc := Document{
		Title:       "t",
		PublishDate: "2024-01-01",
		Paragraphs: []Paragraph{
			{GroupID: 1, Content: "<div><p>第一条 总则</p><p>　　第二条 适用范围</p></div>"},
			{GroupID: 2, Content: "第三条<br>第四条<br/><br/>第五条"},
			{GroupID: 3, Content: "<ul><li>一</li><li>二</li></ul>"},
		},
	}

	got := LegalRegulation.Render(doc)
	assert.Contains(t, got, "第一条 总则\n　　第二条 适用范围\n\n")
	assert.Contains(t, got, "第三条\n第四条\n第五条\n\n")
	assert.Contains(t, got, "一\n二\n\n")
}

func TestRenderVariantsDiffer(t *testing.T) {
	t.Parallel()

	doc := Document{
		Title:        "title",
		PublishDate:  "2024-01-02",
		ReferenceNo:  "No.7",
		Organization: "央行",
	}

	assert.Contains(t, RegulatoryRule.Render(doc), "发布机构: 央行")
	assert.Contains(t, RegulatoryRule.Render(doc), "文号: No.7")
	assert.Contains(t, IndustryNews.Render(doc), "来源: 央行")
	assert.NotContains(t, IndustryNews.Render(doc), "文号")
	assert.NotContains(t, LegalRegulation.Render(doc), "央行")
}
