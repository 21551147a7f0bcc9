package e2e_test

import (
	"encoding/json"
	"path"

	"github.com/gorilla/websocket"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/opencode-ai/sharesync/citest/testutil"
	"github.com/opencode-ai/sharesync/pkg/types"
)

var _ = Describe("Share Protocol", func() {
	Describe("Create, sync and poll", func() {
		It("serves a synced key to a polling viewer", func() {
			created, err := client.CreateShare(ctx, "ses_abcDEF12")
			Expect(err).NotTo(HaveOccurred())
			Expect(created.Secret).NotTo(BeEmpty())
			Expect(created.URL).To(HaveSuffix("/s/abcDEF12"))

			err = client.MustSyncShare(ctx, "ses_abcDEF12", created.Secret,
				"session/info/ses_abcDEF12", `{"title":"X"}`)
			Expect(err).NotTo(HaveOccurred())

			viewer, err := testutil.DialViewer(testServer.WSBaseURL(), "abcDEF12")
			Expect(err).NotTo(HaveOccurred())
			defer viewer.Close()

			Eventually(viewer.FrameCount, "5s").Should(BeNumerically(">=", 1))
			frames := viewer.Frames()
			Expect(frames[0].Key).To(Equal("session/info/ses_abcDEF12"))
			Expect(string(frames[0].Content)).To(MatchJSON(`{"title":"X"}`))
		})

		It("returns the same credentials when sharing twice", func() {
			first, err := client.CreateShare(ctx, "ses_twice001")
			Expect(err).NotTo(HaveOccurred())

			second, err := client.CreateShare(ctx, "ses_twice001")
			Expect(err).NotTo(HaveOccurred())
			Expect(second.Secret).To(Equal(first.Secret))
			Expect(second.URL).To(Equal(first.URL))
		})
	})

	Describe("Invalid key", func() {
		It("rejects keys outside the session grammar and leaves data unchanged", func() {
			created, err := client.CreateShare(ctx, "ses_badkey01")
			Expect(err).NotTo(HaveOccurred())

			err = client.MustSyncShare(ctx, "ses_badkey01", created.Secret,
				"session/info/ses_badkey01", `{"title":"X"}`)
			Expect(err).NotTo(HaveOccurred())

			resp, err := client.SyncShare(ctx, types.ShareSyncRequest{
				SessionID: "ses_badkey01",
				Secret:    created.Secret,
				Key:       "foo/bar",
				Content:   json.RawMessage(`{"x":1}`),
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(400))

			data, err := client.GetShareData(ctx, "badkey01")
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data.Info)).To(MatchJSON(`{"title":"X"}`))
			Expect(data.Messages).To(BeEmpty())
		})
	})

	Describe("Bad secret", func() {
		It("rejects a wrong secret and leaves data unchanged", func() {
			created, err := client.CreateShare(ctx, "ses_badsec01")
			Expect(err).NotTo(HaveOccurred())

			err = client.MustSyncShare(ctx, "ses_badsec01", created.Secret,
				"session/info/ses_badsec01", `{"title":"X"}`)
			Expect(err).NotTo(HaveOccurred())

			resp, err := client.SyncShare(ctx, types.ShareSyncRequest{
				SessionID: "ses_badsec01",
				Secret:    "not-the-secret",
				Key:       "session/info/ses_badsec01",
				Content:   json.RawMessage(`{"title":"evil"}`),
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(403))

			data, err := client.GetShareData(ctx, "badsec01")
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data.Info)).To(MatchJSON(`{"title":"X"}`))
		})
	})

	Describe("Live fan-out", func() {
		It("delivers publishes to every viewer in order after the backlog", func() {
			created, err := client.CreateShare(ctx, "ses_fanout01")
			Expect(err).NotTo(HaveOccurred())

			err = client.MustSyncShare(ctx, "ses_fanout01", created.Secret,
				"session/info/ses_fanout01", `{"title":"fan-out"}`)
			Expect(err).NotTo(HaveOccurred())

			v1, err := testutil.DialViewer(testServer.WSBaseURL(), "fanout01")
			Expect(err).NotTo(HaveOccurred())
			defer v1.Close()
			v2, err := testutil.DialViewer(testServer.WSBaseURL(), "fanout01")
			Expect(err).NotTo(HaveOccurred())
			defer v2.Close()

			// Both viewers finish the backlog before anything new lands.
			Eventually(v1.FrameCount, "5s").Should(Equal(1))
			Eventually(v2.FrameCount, "5s").Should(Equal(1))

			err = client.MustSyncShare(ctx, "ses_fanout01", created.Secret,
				"session/message/ses_fanout01/msg_001", `{"role":"user"}`)
			Expect(err).NotTo(HaveOccurred())
			err = client.MustSyncShare(ctx, "ses_fanout01", created.Secret,
				"session/message/ses_fanout01/msg_002", `{"role":"assistant"}`)
			Expect(err).NotTo(HaveOccurred())

			Eventually(v1.FrameCount, "5s").Should(Equal(3))
			Eventually(v2.FrameCount, "5s").Should(Equal(3))

			for _, v := range []*testutil.Viewer{v1, v2} {
				frames := v.Frames()
				Expect(frames[1].Key).To(Equal("session/message/ses_fanout01/msg_001"))
				Expect(string(frames[1].Content)).To(MatchJSON(`{"role":"user"}`))
				Expect(frames[2].Key).To(Equal("session/message/ses_fanout01/msg_002"))
				Expect(string(frames[2].Content)).To(MatchJSON(`{"role":"assistant"}`))
			}
		})
	})

	Describe("Clear", func() {
		It("closes viewers and empties the read model", func() {
			created, err := client.CreateShare(ctx, "ses_clear001")
			Expect(err).NotTo(HaveOccurred())

			err = client.MustSyncShare(ctx, "ses_clear001", created.Secret,
				"session/info/ses_clear001", `{"title":"doomed"}`)
			Expect(err).NotTo(HaveOccurred())
			err = client.MustSyncShare(ctx, "ses_clear001", created.Secret,
				"session/message/ses_clear001/msg_001", `{"role":"user"}`)
			Expect(err).NotTo(HaveOccurred())

			v1, err := testutil.DialViewer(testServer.WSBaseURL(), "clear001")
			Expect(err).NotTo(HaveOccurred())
			defer v1.Close()
			v2, err := testutil.DialViewer(testServer.WSBaseURL(), "clear001")
			Expect(err).NotTo(HaveOccurred())
			defer v2.Close()

			Eventually(v1.FrameCount, "5s").Should(Equal(2))
			Eventually(v2.FrameCount, "5s").Should(Equal(2))

			resp, err := client.DeleteShare(ctx, "ses_clear001", created.Secret)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(200))

			Eventually(v1.Done(), "5s").Should(BeClosed())
			Eventually(v2.Done(), "5s").Should(BeClosed())

			for _, v := range []*testutil.Viewer{v1, v2} {
				code, reason := v.CloseCode()
				Expect(code).To(Equal(websocket.CloseNormalClosure))
				Expect(reason).To(Equal("share deleted"))
			}

			data, err := client.GetShareData(ctx, "clear001")
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data.Info)).To(MatchJSON(`null`))
			Expect(data.Messages).To(BeEmpty())
		})
	})

	Describe("Publisher coalescing", func() {
		It("sends only the in-flight value and the last written value", func() {
			author, err := testutil.StartAuthor(testServer.BaseURL)
			Expect(err).NotTo(HaveOccurred())
			defer author.Stop()

			sess, err := author.Sessions.Create(ctx, "coalesce")
			Expect(err).NotTo(HaveOccurred())

			info, err := author.Shares.Create(ctx, sess.ID)
			Expect(err).NotTo(HaveOccurred())
			shareName := path.Base(info.URL)
			infoKey := "session/info/" + sess.ID

			// The share url write lands on the server before anything else
			// interesting happens.
			Eventually(func() bool {
				data, err := client.GetShareData(ctx, shareName)
				return err == nil && len(data.Info) > 0
			}, "5s").Should(BeTrue())

			viewer, err := testutil.DialViewer(testServer.WSBaseURL(), shareName)
			Expect(err).NotTo(HaveOccurred())
			defer viewer.Close()
			Eventually(viewer.FrameCount, "5s").Should(BeNumerically(">=", 1))
			backlog := len(viewer.FramesFor(infoKey))
			Expect(backlog).To(Equal(1))

			// Hold the next POST at the gate, then write three revisions.
			// The first is in flight when the others land, so the pipeline
			// must coalesce them into a single trailing sync.
			author.Gate.Hold()
			_, err = author.Sessions.Update(ctx, sess.ID, func(s *types.Session) { s.Title = "one" })
			Expect(err).NotTo(HaveOccurred())
			Eventually(author.Gate.Arrived(), "5s").Should(Receive())

			_, err = author.Sessions.Update(ctx, sess.ID, func(s *types.Session) { s.Title = "two" })
			Expect(err).NotTo(HaveOccurred())
			_, err = author.Sessions.Update(ctx, sess.ID, func(s *types.Session) { s.Title = "three" })
			Expect(err).NotTo(HaveOccurred())
			author.Gate.Release()

			Eventually(func() int { return len(viewer.FramesFor(infoKey)) }, "5s").Should(Equal(backlog + 2))

			var titles []string
			for _, frame := range viewer.FramesFor(infoKey)[backlog:] {
				var s types.Session
				Expect(json.Unmarshal(frame.Content, &s)).To(Succeed())
				titles = append(titles, s.Title)
			}
			Expect(titles).To(Equal([]string{"one", "three"}))

			// Nothing else trickles in afterwards.
			Consistently(func() int { return len(viewer.FramesFor(infoKey)) }, "500ms").Should(Equal(backlog + 2))
		})
	})
})
